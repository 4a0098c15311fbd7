package fetcher

import (
	"context"
	"io"
	"net"
	"net/url"
	"os"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// FTPOptions configures the FTP fetcher. Provider dumps sit on public
// servers, so credentials default to anonymous.
type FTPOptions struct {
	Timeout  time.Duration
	User     string
	Password string
}

// FTPFetcher downloads feed files from FTP servers.
type FTPFetcher struct {
	opts FTPOptions
}

func NewFTPFetcher(opts FTPOptions) *FTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.User == "" {
		opts.User = "anonymous"
		opts.Password = "anonymous@"
	}
	return &FTPFetcher{opts: opts}
}

// splitFTPAddr splits an ftp:// URL into a dialable host:port and the
// remote file path.
func splitFTPAddr(rawURL string) (addr string, path string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", eris.Wrapf(err, "fetch: parse %s", rawURL)
	}
	if u.Scheme != "ftp" {
		return "", "", eris.Errorf("fetch: expected ftp scheme in %s", rawURL)
	}
	if u.Path == "" {
		return "", "", eris.Errorf("fetch: no file path in %s", rawURL)
	}

	addr = u.Host
	if _, _, splitErr := net.SplitHostPort(addr); splitErr != nil {
		addr = net.JoinHostPort(addr, "21")
	}
	return addr, u.Path, nil
}

// ftpFile streams one remote file. Closing it releases both the data
// connection and the control connection.
type ftpFile struct {
	resp *ftp.Response
	conn *ftp.ServerConn
}

func (f *ftpFile) Read(p []byte) (int, error) { return f.resp.Read(p) }

func (f *ftpFile) Close() error {
	respErr := f.resp.Close()
	quitErr := f.conn.Quit()
	if respErr != nil {
		return eris.Wrap(respErr, "fetch: close ftp data connection")
	}
	if quitErr != nil {
		return eris.Wrap(quitErr, "fetch: quit ftp server")
	}
	return nil
}

// Download dials the server and starts retrieving the file. The caller
// must close the returned reader to release the connection.
func (f *FTPFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	addr, path, err := splitFTPAddr(rawURL)
	if err != nil {
		return nil, err
	}

	zap.L().Debug("ftp retrieve", zap.String("addr", addr), zap.String("path", path))

	conn, err := ftp.Dial(addr, ftp.DialWithTimeout(f.opts.Timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, eris.Wrapf(err, "fetch: dial %s", addr)
	}
	if err := conn.Login(f.opts.User, f.opts.Password); err != nil {
		conn.Quit()
		return nil, eris.Wrapf(err, "fetch: login to %s", addr)
	}
	resp, err := conn.Retr(path)
	if err != nil {
		conn.Quit()
		return nil, eris.Wrapf(err, "fetch: retrieve %s", path)
	}
	return &ftpFile{resp: resp, conn: conn}, nil
}

// DownloadToFile downloads the FTP URL into a local file.
func (f *FTPFetcher) DownloadToFile(ctx context.Context, rawURL string, path string) (int64, error) {
	rc, err := f.Download(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	defer rc.Close() //nolint:errcheck

	out, err := os.Create(path)
	if err != nil {
		return 0, eris.Wrapf(err, "fetch: create %s", path)
	}
	defer out.Close() //nolint:errcheck

	n, err := io.Copy(out, rc)
	if err != nil {
		return n, eris.Wrapf(err, "fetch: write %s", path)
	}
	return n, nil
}
