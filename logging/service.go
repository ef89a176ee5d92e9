// Package logging wraps go.uber.org/zap the way the teacher's
// services/logging does: a small Service with Open/Close lifecycle handing
// out a root *zap.Logger, encoded as logfmt via
// github.com/jsternberg/zap-logfmt so operational logs read ts=... lvl=...
// msg=... the way kapacitor's do.
package logging

import (
	"io"
	"os"
	"strings"

	zaplogfmt "github.com/jsternberg/zap-logfmt"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Service owns the process's root logger and its output target.
type Service struct {
	c      Config
	level  zap.AtomicLevel
	root   *zap.Logger
	closer io.Closer
}

func NewService(c Config) *Service {
	return &Service{c: c, level: zap.NewAtomicLevel()}
}

func (s *Service) Open() error {
	if err := s.SetLevel(s.c.Level); err != nil {
		return err
	}

	var ws zapcore.WriteSyncer
	switch s.c.File {
	case "", "STDERR":
		ws = zapcore.Lock(os.Stderr)
	case "STDOUT":
		ws = zapcore.Lock(os.Stdout)
	default:
		f, err := os.OpenFile(s.c.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
		if err != nil {
			return errors.Wrapf(err, "opening log file %q", s.c.File)
		}
		s.closer = f
		ws = zapcore.AddSync(f)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.LevelKey = "lvl"
	encCfg.MessageKey = "msg"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(zaplogfmt.NewEncoder(encCfg), ws, s.level)
	s.root = zap.New(core)
	return nil
}

func (s *Service) Close() error {
	_ = s.root.Sync()
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// Root returns the process root logger; services scope it with .With(...).
func (s *Service) Root() *zap.Logger {
	return s.root
}

func (s *Service) SetLevel(level string) error {
	switch strings.ToUpper(level) {
	case "DEBUG":
		s.level.SetLevel(zap.DebugLevel)
	case "INFO":
		s.level.SetLevel(zap.InfoLevel)
	case "WARN":
		s.level.SetLevel(zap.WarnLevel)
	case "ERROR":
		s.level.SetLevel(zap.ErrorLevel)
	default:
		return errors.Errorf("unknown logging level %q", level)
	}
	return nil
}
