package fetcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitFTPAddr(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		wantAddr string
		wantPath string
		wantErr  bool
	}{
		{
			name:     "default port",
			url:      "ftp://ftp.gbif.org/pub/occurrence/2024/dump.zip",
			wantAddr: "ftp.gbif.org:21",
			wantPath: "/pub/occurrence/2024/dump.zip",
		},
		{
			name:     "explicit port",
			url:      "ftp://mirror.canadensys.net:2121/dwca/vascan.zip",
			wantAddr: "mirror.canadensys.net:2121",
			wantPath: "/dwca/vascan.zip",
		},
		{
			name:    "http scheme rejected",
			url:     "http://ftp.gbif.org/dump.zip",
			wantErr: true,
		},
		{
			name:    "no file path",
			url:     "ftp://ftp.gbif.org",
			wantErr: true,
		},
		{
			name:    "unparseable url",
			url:     "://bad",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, path, err := splitFTPAddr(tt.url)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAddr, addr)
			assert.Equal(t, tt.wantPath, path)
		})
	}
}

func TestNewFTPFetcher_Defaults(t *testing.T) {
	f := NewFTPFetcher(FTPOptions{})
	assert.Equal(t, 30*time.Second, f.opts.Timeout)
	assert.Equal(t, "anonymous", f.opts.User)
	assert.Equal(t, "anonymous@", f.opts.Password)
}

func TestNewFTPFetcher_CustomCredentials(t *testing.T) {
	f := NewFTPFetcher(FTPOptions{User: "feeds", Password: "s3cret"})
	assert.Equal(t, "feeds", f.opts.User)
	assert.Equal(t, "s3cret", f.opts.Password)
}
