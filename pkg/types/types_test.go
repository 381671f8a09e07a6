package types

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorKinds(t *testing.T) {
	cause := errors.New("bad lump")
	err := fmt.Errorf("scan: %w", Wrap(ErrKindStructural, "maps/e1m1.bsp", "parse bsp", cause))

	require.ErrorIs(t, err, ErrStructural)
	require.NotErrorIs(t, err, ErrDecode)
	require.ErrorIs(t, err, cause)
	require.Equal(t, "scan: maps/e1m1.bsp: parse bsp: bad lump", err.Error())

	k, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, ErrKindStructural, k)
	require.Equal(t, "structural", k.String())

	_, ok = KindOf(cause)
	require.False(t, ok)
	require.Equal(t, "unknown", ErrKind(42).String())
}

func TestIssueFor(t *testing.T) {
	require.Equal(t, IssueRawOnly, IssueFor(ErrKindStructural))
	require.Equal(t, IssueDecode, IssueFor(ErrKindDecode))
	require.Equal(t, IssueIO, IssueFor(ErrKindIO))
	require.Equal(t, IssueExtraction, IssueFor(ErrKindExtraction))
	require.Equal(t, IssueUnsupported, IssueFor(ErrKindUnsupported))
}

func TestReportAdd(t *testing.T) {
	r := NewReport()
	r.Add("game.exe", "SecuROM", "UPX")
	r.Add("game.exe", "SecuROM")
	r.Add("empty.bin")
	r.Add("blank.bin", "")

	require.Equal(t, map[string][]string{"game.exe": {"SecuROM", "UPX"}}, r.Map())
	require.Equal(t, []Finding{
		{Path: "game.exe", Label: "SecuROM"},
		{Path: "game.exe", Label: "UPX"},
	}, r.Findings())
	require.Nil(t, r.Labels("empty.bin"))
}

func TestReportConcurrent(t *testing.T) {
	r := NewReport()
	var wg sync.WaitGroup
	for i := range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := fmt.Sprintf("f%d", i%4)
			r.Visit()
			r.Add(p, fmt.Sprintf("L%d", i))
			r.AddIssue(Issue{Path: p, Kind: IssueDecode})
		}()
	}
	wg.Wait()

	require.Equal(t, 32, r.Artifacts())
	require.Len(t, r.Map(), 4)
	require.Len(t, r.Findings(), 32)
	require.Len(t, r.IssuesOf(IssueDecode), 32)
	require.Empty(t, r.IssuesOf(IssueCycle))

	s := r.Summary()
	require.Equal(t, 32, s.Artifacts)
	require.Len(t, s.Issues, 32)
}
