package datastore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadFeatures_CloseByName(t *testing.T) {
	in := "rsi,close,volume\n30,100.5,12\n40,101,13\n"
	fs, err := ReadFeatures(strings.NewReader(in), "close")
	require.NoError(t, err)

	assert.Equal(t, []string{"rsi", "close", "volume"}, fs.Columns)
	assert.Equal(t, 1, fs.CloseIndex)
	assert.Equal(t, 3, fs.Dim())
	assert.Equal(t, [][]float64{{30, 100.5, 12}, {40, 101, 13}}, fs.Rows)
}

func TestReadFeatures_FallbackIndex(t *testing.T) {
	in := "o,h,l,c,v\n1,2,0.5,1.5,10\n"
	fs, err := ReadFeatures(strings.NewReader(in), "")
	require.NoError(t, err)
	assert.Equal(t, DefaultCloseIndex, fs.CloseIndex)

	_, err = ReadFeatures(strings.NewReader("a,b\n1,2\n"), "close")
	assert.Error(t, err)
}

func TestReadFeatures_SkipsBadRows(t *testing.T) {
	in := "open,high,low,close\n1,2,3,4\n1,x,3,4\n1,2,NaN,4\n5,6,7,8\n"
	fs, err := ReadFeatures(strings.NewReader(in), "CLOSE")
	require.NoError(t, err)
	assert.Equal(t, 3, fs.CloseIndex)
	assert.Equal(t, [][]float64{{1, 2, 3, 4}, {5, 6, 7, 8}}, fs.Rows)
}

func TestReadFeatures_Empty(t *testing.T) {
	_, err := ReadFeatures(strings.NewReader(""), "close")
	assert.Error(t, err)

	fs, err := ReadFeatures(strings.NewReader("open,high,low,close\n"), "close")
	require.NoError(t, err)
	assert.Empty(t, fs.Rows)
}

func TestLoadFeatureCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train.csv")
	require.NoError(t, os.WriteFile(path, []byte("open,high,low,close\n1,2,0.5,1.5\n"), 0644))

	fs, err := LoadFeatureCSV(path, "close")
	require.NoError(t, err)
	assert.Len(t, fs.Rows, 1)

	_, err = LoadFeatureCSV(filepath.Join(t.TempDir(), "missing.csv"), "close")
	assert.Error(t, err)
}
