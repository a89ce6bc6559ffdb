package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/textproto"
	"path"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jlaffaye/ftp"

	"github.com/lox/ccdc/internal/metrics"
	"github.com/lox/ccdc/internal/raster"
)

const (
	sourceFTP = "ftp"

	// FTP reply for a missing or unreadable file.
	statusFileUnavailable = 550
)

var (
	// ErrNotFound is returned when the server has no such file.
	ErrNotFound = errors.New("remote file not found")

	ErrInvalidManifest = errors.New("invalid manifest")
)

// FTPConfig configures an FTPSource.
type FTPConfig struct {
	Addr       string // host:port
	User       string
	Password   string
	Timeout    time.Duration
	MaxElapsed time.Duration // total retry budget per file
}

// conn is the part of an FTP session used to download files.
type conn interface {
	Retr(path string) (io.ReadCloser, error)
	Quit() error
}

type ftpConn struct {
	c *ftp.ServerConn
}

func (f ftpConn) Retr(p string) (io.ReadCloser, error) { return f.c.Retr(p) }
func (f ftpConn) Quit() error                          { return f.c.Quit() }

// FTPSource downloads stack manifests and their layers from an FTP server.
type FTPSource struct {
	cfg  FTPConfig
	dial func(ctx context.Context) (conn, error)
	conn conn
}

func NewFTPSource(cfg FTPConfig) *FTPSource {
	if cfg.User == "" {
		cfg.User, cfg.Password = "anonymous", "anonymous"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxElapsed == 0 {
		cfg.MaxElapsed = 2 * time.Minute
	}
	s := &FTPSource{cfg: cfg}
	s.dial = s.dialFTP
	return s
}

func (s *FTPSource) dialFTP(ctx context.Context) (conn, error) {
	c, err := ftp.Dial(s.cfg.Addr, ftp.DialWithTimeout(s.cfg.Timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("ftp dial: %w", err)
	}
	if err := c.Login(s.cfg.User, s.cfg.Password); err != nil {
		c.Quit()
		return nil, backoff.Permanent(fmt.Errorf("ftp login: %w", err))
	}
	return ftpConn{c: c}, nil
}

// Close ends the FTP session, if one is open.
func (s *FTPSource) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Quit()
	s.conn = nil
	return err
}

// Fetch downloads the manifest at remote and every layer it lists into cache. The manifest is
// always downloaded again; layers already fresh in the cache are skipped. It returns the local
// manifest path.
func (s *FTPSource) Fetch(ctx context.Context, remote string, cache *Cache) (string, error) {
	if err := s.download(ctx, remote, cache); err != nil {
		return "", err
	}
	local := cache.Path(remote)
	m, err := raster.LoadManifest(local)
	if err != nil {
		return "", err
	}
	if flags := ValidateManifest(m); len(flags) > 0 {
		if hasFatalFlag(flags) {
			return "", fmt.Errorf("%w: %s: %s", ErrInvalidManifest, remote, strings.Join(flags, ", "))
		}
		log.Printf("ingest: manifest %s quality flags: %s", remote, strings.Join(flags, ", "))
	}

	dir := path.Dir(remote)
	var downloaded, cached int
	for _, name := range m.Files {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		layer := path.Join(dir, name)
		if cache.Fresh(layer) {
			metrics.FetchTotal.WithLabelValues(sourceFTP, "cached").Inc()
			cached++
			continue
		}
		if err := s.download(ctx, layer, cache); err != nil {
			return "", err
		}
		downloaded++
	}
	log.Printf("ingest: %s: %d layers downloaded, %d cached", remote, downloaded, cached)
	return local, nil
}

func (s *FTPSource) download(ctx context.Context, remote string, cache *Cache) error {
	start := time.Now()
	var size int64
	operation := func() error {
		if s.conn == nil {
			c, err := s.dial(ctx)
			if err != nil {
				return err
			}
			s.conn = c
		}

		r, err := s.conn.Retr(remote)
		if err != nil {
			var tpErr *textproto.Error
			if errors.As(err, &tpErr) && tpErr.Code == statusFileUnavailable {
				return backoff.Permanent(fmt.Errorf("%w: %s", ErrNotFound, remote))
			}
			s.Close()
			return fmt.Errorf("ftp retr %s: %w", remote, err)
		}
		size, err = cache.Put(remote, r)
		if cerr := r.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			s.Close()
			return fmt.Errorf("download %s: %w", remote, err)
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = s.cfg.MaxElapsed
	notify := func(err error, wait time.Duration) {
		log.Printf("ingest: retrying %s in %s: %v", remote, wait.Round(time.Millisecond), err)
	}
	if err := backoff.RetryNotify(operation, backoff.WithContext(bo, ctx), notify); err != nil {
		metrics.FetchTotal.WithLabelValues(sourceFTP, "error").Inc()
		return err
	}

	metrics.FetchTotal.WithLabelValues(sourceFTP, "downloaded").Inc()
	metrics.FetchLatency.WithLabelValues(sourceFTP).Observe(time.Since(start).Seconds())
	log.Printf("ingest: fetched %s (%d bytes)", remote, size)
	return nil
}
