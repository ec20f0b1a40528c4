// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mnconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const testConf = `# comment line
   # indented comment

mn1 127.0.0.2:51472 93HaYBVUCYjEMeeH1Y4sBGLALQZE1Yc1K64xiqgX37tGBDQL8Xg 2bcd3c84c84f87eaa86e4e56834c92927a07f9e18718810b92e0d0324456a67c 0
mn2	10.0.0.1:51472  key2 aa00 1 trailing
`

func TestParse(t *testing.T) {
	cfg, err := Parse(strings.NewReader(testConf))
	require.NoError(t, err)
	require.Equal(t, 2, cfg.Count())

	mn2, ok := cfg.Find("mn2")
	require.True(t, ok)
	require.Equal(t, Entry{
		Alias:       "mn2",
		IP:          "10.0.0.1:51472",
		PrivKey:     "key2",
		TxHash:      "aa00",
		OutputIndex: "1",
	}, mn2)
	index, err := mn2.CastOutputIndex()
	require.NoError(t, err)
	require.Equal(t, uint32(1), index)

	_, ok = cfg.Find("mn3")
	require.False(t, ok)
}

func TestParseErrors(t *testing.T) {
	_, err := Parse(strings.NewReader("# ok\nmn1 127.0.0.2:51472 key txid\n"))
	require.Equal(t, ParseError{Line: 2, Text: "mn1 127.0.0.2:51472 key txid"}, err)

	e := Entry{Alias: "mn1", OutputIndex: "x"}
	_, err = e.CastOutputIndex()
	require.Error(t, err)
	e.OutputIndex = "-1"
	_, err = e.CastOutputIndex()
	require.Error(t, err)
}

// TestReadCreatesTemplate ensures a missing file is replaced by a template
// which parses to an empty configuration.
func TestReadCreatesTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)

	cfg, err := Read(path)
	require.NoError(t, err)
	require.Zero(t, cfg.Count())

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, header, string(contents))

	cfg, err = Read(path)
	require.NoError(t, err)
	require.Zero(t, cfg.Count())

	require.NoError(t, os.WriteFile(path, []byte(testConf), 0600))
	cfg, err = Read(path)
	require.NoError(t, err)
	require.Equal(t, 2, cfg.Count())
}
