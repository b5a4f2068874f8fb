package queue

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSerialEngine(t *testing.T, gw Gateway) *Engine {
	t.Helper()
	return newTestEngine(t, gw, Options{Name: "trim", Command: "encode_and_trim", Mode: ModeSerial})
}

func staged(t *testing.T, e *Engine) []StagedFile {
	t.Helper()
	s, err := e.Staged()
	require.NoError(t, err)
	return s
}

func TestSerial_StageFiles(t *testing.T) {
	gw := newBlockingGateway()
	e := newSerialEngine(t, gw)

	adm, err := e.StageFiles(Drop{"/x.mov", "/noext", "/x.mov"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/x.mov"}, adm.Accepted)
	assert.Equal(t, []string{"/noext"}, adm.Rejected)

	adm, err = e.StageFiles(Drop{"/x.mov", "/y.mkv"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/y.mkv"}, adm.Accepted)

	assert.Equal(t, []StagedFile{{Path: "/x.mov"}, {Path: "/y.mkv"}}, staged(t, e))
	assert.Empty(t, e.Files())
	gw.assertIdle(t)
}

func TestSerial_StageDedupsAgainstQueue(t *testing.T) {
	gw := newBlockingGateway()
	e := newSerialEngine(t, gw)

	_, err := e.StageFiles(Drop{"/x.mov"})
	require.NoError(t, err)
	require.NoError(t, e.CommitStaged([]StagedFile{{Path: "/x.mov", Start: "00:01.000", End: "00:02.000"}}))

	adm, err := e.StageFiles(Drop{"/x.mov"})
	require.NoError(t, err)
	assert.Empty(t, adm.Accepted)
	assert.Empty(t, staged(t, e))

	gw.next(t).release <- nil
	waitState(t, e, "/x.mov", StateFinished)
}

func TestSerial_Unstage(t *testing.T) {
	e := newSerialEngine(t, newBlockingGateway())

	_, err := e.StageFiles(Drop{"/a.mov", "/b.mov", "/c.mov"})
	require.NoError(t, err)

	require.NoError(t, e.Unstage(1))
	assert.Equal(t, []StagedFile{{Path: "/a.mov"}, {Path: "/c.mov"}}, staged(t, e))

	assert.ErrorIs(t, e.Unstage(2), ErrIndexOutOfRange)
	assert.ErrorIs(t, e.Unstage(-1), ErrIndexOutOfRange)

	require.NoError(t, e.ClearStaged())
	assert.Empty(t, staged(t, e))
}

func TestSerial_CommitPromotesImmediately(t *testing.T) {
	gw := newBlockingGateway()
	e := newSerialEngine(t, gw)

	_, err := e.StageFiles(Drop{"/x.mov"})
	require.NoError(t, err)
	require.NoError(t, e.CommitStaged([]StagedFile{{Path: "/x.mov", Start: "00:01.000", End: "00:02.000"}}))
	assert.Empty(t, staged(t, e))

	c := gw.next(t)
	assert.Equal(t, "encode_and_trim", c.command)
	assert.Equal(t, "/x.mov", c.args.SourceFpath)
	assert.Equal(t, "00:01.000", c.args.Start)
	assert.Equal(t, "00:02.000", c.args.End)

	f, ok := e.File("/x.mov")
	require.True(t, ok)
	assert.Equal(t, StateProcessing, f.State)
	require.NotNil(t, f.Params)
	assert.Equal(t, TrimRange{Start: "00:01.000", End: "00:02.000"}, *f.Params)

	c.release <- nil
	waitState(t, e, "/x.mov", StateFinished)
}

func TestSerial_CommitValidation(t *testing.T) {
	gw := newBlockingGateway()
	e := newSerialEngine(t, gw)

	_, err := e.StageFiles(Drop{"/a.mov", "/b.mov"})
	require.NoError(t, err)

	err = e.CommitStaged([]StagedFile{
		{Path: "/a.mov", Start: "00:01.000", End: "00:02.000"},
		{Path: "/b.mov", Start: "1:00", End: "00:03.00"},
		{Path: "/zzz.mov", Start: "00:01.000", End: "00:02.000"},
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.ElementsMatch(t, []FieldError{
		{Path: "/b.mov", Field: "start", Message: "enter a start time like 00:01.458"},
		{Path: "/zzz.mov", Field: "path", Message: "file is not staged"},
	}, verr.Fields)

	// Nothing was queued and the valid values survived.
	assert.Empty(t, e.Files())
	assert.Equal(t, []StagedFile{
		{Path: "/a.mov", Start: "00:01.000", End: "00:02.000"},
		{Path: "/b.mov", Start: "1:00", End: "00:03.00"},
	}, staged(t, e))
	gw.assertIdle(t)

	// Correcting only the bad entry is enough.
	require.NoError(t, e.CommitStaged([]StagedFile{{Path: "/b.mov", Start: "01:00.00", End: "00:03.00"}}))
	assert.Equal(t, []string{"/a.mov", "/b.mov"}, paths(e.Files()))

	gw.next(t).release <- nil
	gw.next(t).release <- nil
	waitState(t, e, "/b.mov", StateFinished)
}

func TestSerial_CommitRequiresEveryStagedFile(t *testing.T) {
	e := newSerialEngine(t, newBlockingGateway())

	_, err := e.StageFiles(Drop{"/a.mov"})
	require.NoError(t, err)

	var verr *ValidationError
	require.ErrorAs(t, e.CommitStaged(nil), &verr)
	assert.Len(t, verr.Fields, 2)
	assert.Contains(t, verr.Error(), "a.mov start")
}

func TestSerial_SingleInFlightFIFO(t *testing.T) {
	gw := newBlockingGateway()
	e := newSerialEngine(t, gw)

	var committed []string
	for batch := 0; batch < 3; batch++ {
		var drop Drop
		var params []StagedFile
		for i := 0; i < 3; i++ {
			p := fmt.Sprintf("/clip-%d-%d.mov", batch, i)
			drop = append(drop, p)
			params = append(params, StagedFile{Path: p, Start: "00:00.000", End: "00:01.000"})
			committed = append(committed, p)
		}
		_, err := e.StageFiles(drop)
		require.NoError(t, err)
		require.NoError(t, e.CommitStaged(params))
	}

	var dispatched []string
	for range committed {
		c := gw.next(t)
		dispatched = append(dispatched, c.args.SourceFpath)
		assert.Equal(t, 1, countState(e, StateProcessing))
		gw.assertIdle(t)

		c.release <- nil
		waitState(t, e, c.args.SourceFpath, StateFinished)
		assert.LessOrEqual(t, countState(e, StateProcessing), 1)
	}

	assert.Equal(t, committed, dispatched)
	assert.Equal(t, int32(1), gw.peak.Load())

	var finished []TrackedFile
	for _, f := range e.Files() {
		require.Equal(t, StateFinished, f.State)
		finished = append(finished, f)
	}
	for i := 1; i < len(finished); i++ {
		assert.False(t, finished[i].FinishedAt.Before(finished[i-1].FinishedAt))
	}
}

func TestSerial_CompletionBeforeNextStarts(t *testing.T) {
	gw := newBlockingGateway()
	e := newSerialEngine(t, gw)

	_, err := e.StageFiles(Drop{"/p1.mov"})
	require.NoError(t, err)
	require.NoError(t, e.CommitStaged([]StagedFile{{Path: "/p1.mov", Start: "00:00.000", End: "00:01.000"}}))
	c1 := gw.next(t)

	_, err = e.StageFiles(Drop{"/p2.mov"})
	require.NoError(t, err)
	require.NoError(t, e.CommitStaged([]StagedFile{{Path: "/p2.mov", Start: "00:00.000", End: "00:01.000"}}))

	f2, _ := e.File("/p2.mov")
	assert.Equal(t, StateQueued, f2.State)
	gw.assertIdle(t)

	c1.release <- nil
	waitState(t, e, "/p1.mov", StateFinished)

	c2 := gw.next(t)
	assert.Equal(t, "/p2.mov", c2.args.SourceFpath)
	assert.Equal(t, int32(1), gw.peak.Load())
	c2.release <- nil
	waitState(t, e, "/p2.mov", StateFinished)
}

func TestSerial_RemovalShiftsQueue(t *testing.T) {
	gw := newBlockingGateway()
	e := newSerialEngine(t, gw)

	drop := Drop{"/a.mov", "/b.mov", "/c.mov"}
	var params []StagedFile
	for _, p := range drop {
		params = append(params, StagedFile{Path: p, Start: "00:00.000", End: "00:01.000"})
	}
	_, err := e.StageFiles(drop)
	require.NoError(t, err)
	require.NoError(t, e.CommitStaged(params))

	ca := gw.next(t)
	require.Equal(t, "/a.mov", ca.args.SourceFpath)

	// Removing a queued entry ahead of completion moves the running one's
	// position without confusing the reconciler.
	require.NoError(t, e.RemoveOne("/b.mov"))
	ca.release <- nil
	waitState(t, e, "/a.mov", StateFinished)

	cc := gw.next(t)
	assert.Equal(t, "/c.mov", cc.args.SourceFpath)

	// Removing the running entry frees the scheduler; its late result is
	// dropped.
	require.NoError(t, e.RemoveOne("/c.mov"))
	cc.release <- nil
	gw.assertIdle(t)
	assert.Equal(t, []string{"/a.mov"}, paths(e.Files()))
}

func TestSerial_FailureDoesNotStallQueue(t *testing.T) {
	gw := newBlockingGateway()
	e := newSerialEngine(t, gw)

	_, err := e.StageFiles(Drop{"/a.mov", "/b.mov"})
	require.NoError(t, err)
	require.NoError(t, e.CommitStaged([]StagedFile{
		{Path: "/a.mov", Start: "00:00.000", End: "00:01.000"},
		{Path: "/b.mov", Start: "00:00.000", End: "00:01.000"},
	}))

	gw.next(t).release <- assert.AnError
	waitState(t, e, "/a.mov", StateFailed)

	c := gw.next(t)
	assert.Equal(t, "/b.mov", c.args.SourceFpath)
	c.release <- nil
	waitState(t, e, "/b.mov", StateFinished)
}
