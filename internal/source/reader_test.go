package source

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, split Split) []Record {
	t.Helper()
	r, err := Open(split)
	require.NoError(t, err)
	defer r.Close()

	var records []Record
	for r.Next() {
		records = append(records, r.Record())
	}
	require.NoError(t, r.Err())
	return records
}

func TestReader_WholeFile(t *testing.T) {
	content := "first\nsecond line\r\n\nlast-without-newline"
	path := writeFile(t, t.TempDir(), "in.tsv", content)

	records := readAll(t, Split{Path: path, Length: int64(len(content))})

	require.Equal(t, []Record{
		{Offset: 0, Data: []byte("first")},
		{Offset: 6, Data: []byte("second line")},
		{Offset: 19, Data: []byte("")},
		{Offset: 20, Data: []byte("last-without-newline")},
	}, records)
}

func TestReader_EmptySplit(t *testing.T) {
	path := writeFile(t, t.TempDir(), "empty", "")
	require.Empty(t, readAll(t, Split{Path: path}))
}

func TestReader_SplitsPartitionLinesExactlyOnce(t *testing.T) {
	var lines []string
	for i := range 200 {
		lines = append(lines, fmt.Sprintf("%d\t%s", i, strings.Repeat("z", i%17)))
	}
	content := strings.Join(lines, "\n") + "\n"
	path := writeFile(t, t.TempDir(), "in.tsv", content)

	for _, splitSize := range []int64{1, 7, 16, 100, 1 << 20} {
		t.Run(fmt.Sprint(splitSize), func(t *testing.T) {
			splits, err := ComputeSplits([]string{path}, splitSize)
			require.NoError(t, err)

			var got []string
			var offsets []int64
			for _, split := range splits {
				for _, rec := range readAll(t, split) {
					got = append(got, string(rec.Data))
					offsets = append(offsets, rec.Offset)
				}
			}
			require.Equal(t, lines, got)

			var want int64
			for i, line := range lines {
				require.Equal(t, want, offsets[i])
				want += int64(len(line)) + 1
			}
		})
	}
}

func TestReader_LineStartingAtBoundary(t *testing.T) {
	// "abc\n" is 4 bytes, so the second line starts exactly at offset 4.
	path := writeFile(t, t.TempDir(), "in", "abc\ndef\n")

	first := readAll(t, Split{Path: path, Start: 0, Length: 4})
	second := readAll(t, Split{Path: path, Start: 4, Length: 4})

	require.Equal(t, []Record{{Offset: 0, Data: []byte("abc")}}, first)
	require.Equal(t, []Record{{Offset: 4, Data: []byte("def")}}, second)
}

func TestOpen_MissingFile(t *testing.T) {
	_, err := Open(Split{Path: "/no/such/file", Length: 1})
	require.Error(t, err)
}
