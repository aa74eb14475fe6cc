// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package config loads the daemon configuration from defaults, an optional
// YAML file and the environment, in increasing order of precedence.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/juju/schema"
	"gopkg.in/yaml.v3"

	"github.com/pgbufview/pgbufview/core/trace"
)

// Setting keys, as used in the config file. The environment variable for a
// setting is its key in upper case with underscores, see EnvName.
const (
	PostgresHostKey            = "postgres-host"
	PostgresPortKey            = "postgres-port"
	PostgresUserKey            = "postgres-user"
	PostgresPasswordKey        = "postgres-password"
	PostgresDBKey              = "postgres-db"
	BPFTracePathKey            = "bpftrace-path"
	BPFTraceScriptKey          = "bpftrace-script"
	ServerHostKey              = "server-host"
	ServerPortKey              = "server-port"
	StaticDirKey               = "static-dir"
	ProcessTerminateTimeoutKey = "process-terminate-timeout"
	StartupDelayKey            = "startup-delay"
	DatabaseWaitAttemptsKey    = "database-wait-attempts"
	RelationRefreshIntervalKey = "relation-refresh-interval"
	WebsocketWriteTimeoutKey   = "websocket-write-timeout"
	TraceSchemaKey             = "trace-schema"
	LogConfigKey               = "log-config"
)

// Default values used when a setting is neither in the file nor in the
// environment.
const (
	DefaultPostgresHost            = "localhost"
	DefaultPostgresPort            = 5432
	DefaultPostgresUser            = "postgres"
	DefaultPostgresDB              = "postgres"
	DefaultBPFTracePath            = "/usr/bin/bpftrace"
	DefaultBPFTraceScript          = "/app/server/trace_buffer_read.bt"
	DefaultServerHost              = "0.0.0.0"
	DefaultServerPort              = 8000
	DefaultStaticDir               = "../static"
	DefaultProcessTerminateTimeout = 5 * time.Second
	DefaultStartupDelay            = 2 * time.Second
	DefaultDatabaseWaitAttempts    = 10
	DefaultWebsocketWriteTimeout   = 10 * time.Second
	DefaultLogConfig               = "<root>=INFO"
)

var configChecker = schema.FieldMap(schema.Fields{
	PostgresHostKey:            schema.NonEmptyString(PostgresHostKey),
	PostgresPortKey:            schema.ForceInt(),
	PostgresUserKey:            schema.NonEmptyString(PostgresUserKey),
	PostgresPasswordKey:        schema.String(),
	PostgresDBKey:              schema.NonEmptyString(PostgresDBKey),
	BPFTracePathKey:            schema.NonEmptyString(BPFTracePathKey),
	BPFTraceScriptKey:          schema.String(),
	ServerHostKey:              schema.String(),
	ServerPortKey:              schema.ForceInt(),
	StaticDirKey:               schema.String(),
	ProcessTerminateTimeoutKey: schema.TimeDurationString(),
	StartupDelayKey:            schema.TimeDurationString(),
	DatabaseWaitAttemptsKey:    schema.ForceInt(),
	RelationRefreshIntervalKey: schema.TimeDurationString(),
	WebsocketWriteTimeoutKey:   schema.TimeDurationString(),
	TraceSchemaKey:             schema.String(),
	LogConfigKey:               schema.String(),
}, schema.Defaults{})

func defaults() map[string]any {
	return map[string]any{
		PostgresHostKey:            DefaultPostgresHost,
		PostgresPortKey:            DefaultPostgresPort,
		PostgresUserKey:            DefaultPostgresUser,
		PostgresPasswordKey:        "",
		PostgresDBKey:              DefaultPostgresDB,
		BPFTracePathKey:            DefaultBPFTracePath,
		BPFTraceScriptKey:          DefaultBPFTraceScript,
		ServerHostKey:              DefaultServerHost,
		ServerPortKey:              DefaultServerPort,
		StaticDirKey:               DefaultStaticDir,
		ProcessTerminateTimeoutKey: DefaultProcessTerminateTimeout.String(),
		StartupDelayKey:            DefaultStartupDelay.String(),
		DatabaseWaitAttemptsKey:    DefaultDatabaseWaitAttempts,
		// Zero disables the periodic refresh; the relation listing
		// still refreshes on every request.
		RelationRefreshIntervalKey: "0s",
		WebsocketWriteTimeoutKey:   DefaultWebsocketWriteTimeout.String(),
		TraceSchemaKey:             trace.SchemaAuto.String(),
		LogConfigKey:               DefaultLogConfig,
	}
}

// durationKeys are the settings holding durations. In the environment they
// may also be given as a number of seconds.
var durationKeys = map[string]bool{
	ProcessTerminateTimeoutKey: true,
	StartupDelayKey:            true,
	RelationRefreshIntervalKey: true,
	WebsocketWriteTimeoutKey:   true,
}

// EnvName returns the environment variable that overrides the setting
// with the given key.
func EnvName(key string) string {
	return strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}

// Config holds the validated daemon configuration.
type Config struct {
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string

	BPFTracePath   string
	BPFTraceScript string
	TraceSchema    trace.Schema

	ServerHost string
	ServerPort int
	StaticDir  string

	ProcessTerminateTimeout time.Duration
	StartupDelay            time.Duration
	DatabaseWaitAttempts    int
	RelationRefreshInterval time.Duration
	WebsocketWriteTimeout   time.Duration

	LogConfig string
}

// Load reads the configuration. The file at path is optional and ignored
// when path is empty. env looks up environment variables, typically
// os.Getenv; a variable that is set to the empty string is ignored.
func Load(path string, env func(string) string) (Config, error) {
	attrs := defaults()

	if path != "" {
		fileAttrs, err := readFile(path)
		if err != nil {
			return Config{}, errors.Trace(err)
		}
		for key, value := range fileAttrs {
			if _, ok := attrs[key]; !ok {
				return Config{}, errors.NotValidf("unknown setting %q in %s", key, path)
			}
			attrs[key] = durationValue(key, value)
		}
	}

	if env != nil {
		for key := range attrs {
			value := env(EnvName(key))
			if value == "" {
				continue
			}
			attrs[key] = durationValue(key, value)
		}
	}

	return FromAttrs(attrs)
}

func readFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Annotatef(err, "reading config file")
	}
	var attrs map[string]any
	if err := yaml.Unmarshal(data, &attrs); err != nil {
		return nil, errors.Annotatef(err, "parsing config file %s", path)
	}
	return attrs, nil
}

// durationValue converts a plain number of seconds given for a duration
// setting into a duration string. Other values are returned unchanged.
func durationValue(key string, value any) any {
	if !durationKeys[key] {
		return value
	}
	var seconds float64
	switch v := value.(type) {
	case int:
		seconds = float64(v)
	case float64:
		seconds = v
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return value
		}
		seconds = parsed
	default:
		return value
	}
	return time.Duration(seconds * float64(time.Second)).String()
}

// FromAttrs coerces and validates a complete set of settings.
func FromAttrs(attrs map[string]any) (Config, error) {
	coerced, err := configChecker.Coerce(attrs, nil)
	if err != nil {
		return Config{}, errors.NewNotValid(err, "invalid configuration")
	}
	m := coerced.(map[string]any)

	traceSchema, err := trace.ParseSchemaName(m[TraceSchemaKey].(string))
	if err != nil {
		return Config{}, errors.Trace(err)
	}

	var durations [4]time.Duration
	for i, key := range []string{
		ProcessTerminateTimeoutKey,
		StartupDelayKey,
		RelationRefreshIntervalKey,
		WebsocketWriteTimeoutKey,
	} {
		if durations[i], err = durationAttr(m, key); err != nil {
			return Config{}, errors.Trace(err)
		}
	}

	cfg := Config{
		PostgresHost:            m[PostgresHostKey].(string),
		PostgresPort:            m[PostgresPortKey].(int),
		PostgresUser:            m[PostgresUserKey].(string),
		PostgresPassword:        m[PostgresPasswordKey].(string),
		PostgresDB:              m[PostgresDBKey].(string),
		BPFTracePath:            m[BPFTracePathKey].(string),
		BPFTraceScript:          m[BPFTraceScriptKey].(string),
		TraceSchema:             traceSchema,
		ServerHost:              m[ServerHostKey].(string),
		ServerPort:              m[ServerPortKey].(int),
		StaticDir:               m[StaticDirKey].(string),
		ProcessTerminateTimeout: durations[0],
		StartupDelay:            durations[1],
		DatabaseWaitAttempts:    m[DatabaseWaitAttemptsKey].(int),
		RelationRefreshInterval: durations[2],
		WebsocketWriteTimeout:   durations[3],
		LogConfig:               m[LogConfigKey].(string),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Trace(err)
	}
	return cfg, nil
}

// durationAttr parses a coerced duration setting. The schema checker
// leaves durations in their string form.
func durationAttr(m map[string]any, key string) (time.Duration, error) {
	value, ok := m[key].(string)
	if !ok {
		return 0, errors.NotValidf("%s %v", key, m[key])
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, errors.NotValidf("%s %q", key, value)
	}
	return d, nil
}

// Validate ensures that the config values are valid.
func (c Config) Validate() error {
	if c.PostgresPort <= 0 || c.PostgresPort > 65535 {
		return errors.NotValidf("%s %d", PostgresPortKey, c.PostgresPort)
	}
	if c.ServerPort < 0 || c.ServerPort > 65535 {
		return errors.NotValidf("%s %d", ServerPortKey, c.ServerPort)
	}
	if c.ProcessTerminateTimeout <= 0 {
		return errors.NotValidf("%s %v", ProcessTerminateTimeoutKey, c.ProcessTerminateTimeout)
	}
	if c.StartupDelay < 0 {
		return errors.NotValidf("%s %v", StartupDelayKey, c.StartupDelay)
	}
	if c.RelationRefreshInterval < 0 {
		return errors.NotValidf("%s %v", RelationRefreshIntervalKey, c.RelationRefreshInterval)
	}
	if c.WebsocketWriteTimeout <= 0 {
		return errors.NotValidf("%s %v", WebsocketWriteTimeoutKey, c.WebsocketWriteTimeout)
	}
	return nil
}

// PostgresDSN returns the connection string for the database.
func (c Config) PostgresDSN() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(c.PostgresHost, strconv.Itoa(c.PostgresPort)),
		Path:   "/" + c.PostgresDB,
	}
	if c.PostgresPassword != "" {
		u.User = url.UserPassword(c.PostgresUser, c.PostgresPassword)
	} else {
		u.User = url.User(c.PostgresUser)
	}
	return u.String()
}

// ListenAddress returns the address the api server listens on.
func (c Config) ListenAddress() string {
	return net.JoinHostPort(c.ServerHost, strconv.Itoa(c.ServerPort))
}

// TracerArgs returns the arguments passed to the tracer.
func (c Config) TracerArgs() []string {
	if c.BPFTraceScript == "" {
		return nil
	}
	return []string{c.BPFTraceScript}
}

// String implements fmt.Stringer. The password is not included.
func (c Config) String() string {
	return fmt.Sprintf("postgres=%s:%d/%s tracer=%s %s listen=%s",
		c.PostgresHost, c.PostgresPort, c.PostgresDB,
		c.BPFTracePath, c.BPFTraceScript, c.ListenAddress())
}
