package ulogger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ordishs/gocore"
	"github.com/rs/zerolog"
	"golang.org/x/term"
)

type ZLoggerWrapper struct {
	zerolog.Logger
	service string
	w       io.Writer
}

func NewZeroLogger(service string, options ...Option) *ZLoggerWrapper {
	if service == "" {
		service = "candyd"
	}

	opts := DefaultOptions()
	for _, o := range options {
		o(opts)
	}

	var z *ZLoggerWrapper
	if gocore.Config().GetBool("PRETTY_LOGS", true) {
		z = prettyZeroLogger(service)
	} else {
		z = &ZLoggerWrapper{
			zerolog.New(opts.writer).With().
				CallerWithSkipFrameCount(zerolog.CallerSkipFrameCount + 2).
				Timestamp().
				Logger(),
			service,
			opts.writer,
		}
	}

	z.SetLogLevel(opts.logLevel)

	return z
}

func prettyZeroLogger(service string) *ZLoggerWrapper {
	isTerminal := term.IsTerminal(int(os.Stdout.Fd()))
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		NoColor:    !isTerminal,
		TimeFormat: time.RFC3339,
	}

	output.FormatTimestamp = func(i interface{}) string {
		parsed, _ := time.Parse(time.RFC3339, i.(string))
		return parsed.Format("15:04:05")
	}

	output.FormatLevel = func(i interface{}) string {
		return fmt.Sprintf("| %-6s|", strings.ToUpper(fmt.Sprintf("%s", i)))
	}

	output.FormatMessage = func(i interface{}) string {
		return fmt.Sprintf("| %-10s| %s", service, i)
	}

	return &ZLoggerWrapper{
		zerolog.New(output).With().Timestamp().Logger(),
		service,
		os.Stdout,
	}
}

func (z *ZLoggerWrapper) LogLevel() int {
	return int(z.GetLevel())
}

func (z *ZLoggerWrapper) SetLogLevel(level string) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		z.Logger = z.Logger.Level(zerolog.DebugLevel)
	case "INFO":
		z.Logger = z.Logger.Level(zerolog.InfoLevel)
	case "WARN":
		z.Logger = z.Logger.Level(zerolog.WarnLevel)
	case "ERROR":
		z.Logger = z.Logger.Level(zerolog.ErrorLevel)
	default:
		z.Logger = z.Logger.Level(zerolog.InfoLevel)
	}
}

func (z *ZLoggerWrapper) Debugf(format string, args ...interface{}) {
	z.Logger.Debug().Msgf(format, args...)
}

func (z *ZLoggerWrapper) Infof(format string, args ...interface{}) {
	z.Logger.Info().Msgf(format, args...)
}

func (z *ZLoggerWrapper) Warnf(format string, args ...interface{}) {
	z.Logger.Warn().Msgf(format, args...)
}

func (z *ZLoggerWrapper) Errorf(format string, args ...interface{}) {
	z.Logger.Error().Msgf(format, args...)
}

func (z *ZLoggerWrapper) Fatalf(format string, args ...interface{}) {
	z.Logger.Fatal().Msgf(format, args...)
}

func (z *ZLoggerWrapper) New(service string, options ...Option) Logger {
	options = append(options, WithWriter(z.w))
	l := NewZeroLogger(service, options...)
	l.Logger = l.Logger.Level(z.GetLevel())

	return l
}

func (z *ZLoggerWrapper) Duplicate(options ...Option) Logger {
	newLogger := &ZLoggerWrapper{z.Logger, z.service, z.w}

	opts := DefaultOptions()
	defaultOpts := DefaultOptions()
	for _, o := range options {
		o(opts)
	}

	if opts.logLevel != defaultOpts.logLevel {
		newLogger.SetLogLevel(opts.logLevel)
	}

	return newLogger
}
