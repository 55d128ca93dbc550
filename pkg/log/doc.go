/*
Package log provides structured logging for the DDS broker and client using
zerolog. It wraps a single global logger, configured once via Init, plus a
handful of With* helpers for tagging child loggers with the fields the
broker and client dispatch loops care about: component name, peer address,
subsystem uuid.

Usage:

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	log.Info("broker starting")

	connLog := log.WithConnID(conn.RemoteAddr().String())
	connLog.Info().Msg("handshake complete")

	subLog := log.WithSubsystem(info.UUID.String())
	subLog.Warn().Err(err).Msg("registration rejected")

JSONOutput selects JSON records (production) versus a human-readable console
writer (local development); both include a timestamp.
*/
package log
