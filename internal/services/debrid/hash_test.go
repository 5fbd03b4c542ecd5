package debrid

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMagnetHash = "c9e15763f722f23e98a29decdfae341b98d53056"

// testTorrent returns a minimal single-file .torrent and its expected info-hash
func testTorrent() ([]byte, string) {
	info := "d6:lengthi10e4:name8:test.mkv12:piece lengthi16384e6:pieces20:" + strings.Repeat("x", 20) + "e"
	sum := sha1.Sum([]byte(info))
	return []byte("d8:announce9:udp://x:14:info" + info + "e"), hex.EncodeToString(sum[:])
}

func TestHashFromMagnet(t *testing.T) {
	h, err := HashFromMagnet("magnet:?xt=urn:btih:C9E15763F722F23E98A29DECDFAE341B98D53056&dn=Some.Movie")
	require.NoError(t, err)
	assert.Equal(t, testMagnetHash, h)

	_, err = HashFromMagnet("magnet:?dn=nohash")
	assert.Error(t, err)
}

func TestParseTorrentFile(t *testing.T) {
	data, want := testTorrent()
	h, name, err := ParseTorrentFile(data)
	require.NoError(t, err)
	assert.Equal(t, want, h)
	assert.Equal(t, "test.mkv", name)

	_, _, err = ParseTorrentFile([]byte("not bencode"))
	assert.Error(t, err)
}

func TestMagnetFromHashRoundTrip(t *testing.T) {
	h, err := HashFromMagnet(MagnetFromHash(strings.ToUpper(testMagnetHash), "A Name"))
	require.NoError(t, err)
	assert.Equal(t, testMagnetHash, h)
}

func TestFetcherResolve(t *testing.T) {
	data, want := testTorrent()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/file.torrent":
			w.Header().Set("Content-Type", "application/x-bittorrent")
			_, _ = w.Write(data)
		case "/redirect":
			w.Header().Set("Location", "magnet:?xt=urn:btih:"+testMagnetHash)
			w.WriteHeader(http.StatusFound)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewFetcher(0)
	ctx := context.Background()

	res, err := f.Resolve(ctx, srv.URL+"/file.torrent", "")
	require.NoError(t, err)
	assert.Equal(t, want, res.Hash)
	assert.Equal(t, data, res.File)

	res, err = f.Resolve(ctx, srv.URL+"/redirect", "")
	require.NoError(t, err)
	assert.Equal(t, testMagnetHash, res.Hash)
	assert.True(t, IsMagnet(res.Magnet))

	res, err = f.Resolve(ctx, "", testMagnetHash)
	require.NoError(t, err)
	assert.Equal(t, testMagnetHash, res.Hash)

	_, err = f.Resolve(ctx, srv.URL+"/missing", "")
	assert.Error(t, err)

	_, err = f.Resolve(ctx, "", "")
	assert.ErrorIs(t, err, ErrNoHash)
}
