// vtools/main.go
package main

import "vtools/cli"

func main() {
	cli.Execute()
}
