package spool

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetWriteAndReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	set, err := Open(dir, []string{"proteins", "genes"})
	require.NoError(t, err)

	require.NoError(t, set.WriteRow("proteins", []string{"P11111", `\N`}))
	require.NoError(t, set.WriteRow("proteins", []string{"P22222", "seq"}))
	require.NoError(t, set.WriteRow("genes", []string{"P11111", "GENEA", "t"}))
	require.NoError(t, set.Close())

	r, closeFn, err := OpenReader(set.Path("proteins"))
	require.NoError(t, err)
	defer closeFn()

	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.NoError(t, sc.Err())
	require.Equal(t, []string{"P11111\t\\N", "P22222\tseq"}, lines)
}

func TestSetDeleteRemovesWorkingDirectory(t *testing.T) {
	parent := t.TempDir()
	dir := filepath.Join(parent, "run-123")
	set, err := Open(dir, []string{"proteins"})
	require.NoError(t, err)
	require.NoError(t, set.WriteRow("proteins", []string{"P11111"}))
	require.NoError(t, set.Close())

	require.NoError(t, set.Delete())
	_, statErr := os.Stat(dir)
	require.True(t, os.IsNotExist(statErr))
}

func TestChecksumIsDeterministicAndSensitiveToContent(t *testing.T) {
	dir := t.TempDir()
	set, err := Open(dir, []string{"proteins"})
	require.NoError(t, err)
	require.NoError(t, set.WriteRow("proteins", []string{"P11111", "seq"}))
	require.NoError(t, set.Close())
	sum := set.Checksum("proteins")
	require.NotZero(t, sum)

	other := t.TempDir()
	set2, err := Open(other, []string{"proteins"})
	require.NoError(t, err)
	require.NoError(t, set2.WriteRow("proteins", []string{"P11111", "seq"}))
	require.NoError(t, set2.Close())
	require.Equal(t, sum, set2.Checksum("proteins"))

	set3, err := Open(t.TempDir(), []string{"proteins"})
	require.NoError(t, err)
	require.NoError(t, set3.WriteRow("proteins", []string{"P99999", "different"}))
	require.NoError(t, set3.Close())
	require.NotEqual(t, sum, set3.Checksum("proteins"))
}

func TestWriteRowUnknownTable(t *testing.T) {
	dir := t.TempDir()
	set, err := Open(dir, []string{"proteins"})
	require.NoError(t, err)
	defer set.Close()

	err = set.WriteRow("nope", []string{"x"})
	require.Error(t, err)
}
