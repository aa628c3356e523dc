// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package settings holds the daemon configuration: a schema-checked
// attribute map populated from MQUEUE_* environment variables and an
// optional YAML file, with typed accessors over the coerced values.
package settings

import (
	"net"
	"os"
	"strings"
	"time"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/schema"
	"gopkg.in/yaml.v3"

	"github.com/juju/mqueue/core/authmode"
)

var logger = loggo.GetLogger("mqueue.settings")

// Backend kinds accepted for the backend attribute.
const (
	BackendMemory = "memory"
	BackendSQL    = "sql"
	BackendRedis  = "redis"
	BackendMongo  = "mongo"
)

// Attribute keys.
const (
	// Backend selects the storage backend kind.
	Backend = "backend"

	// AuthMode selects the access control mode for sub-queue scoped
	// requests.
	AuthMode = "auth-mode"

	// TokenSecret is the HMAC secret bearer tokens are signed with.
	TokenSecret = "token-secret"

	// TokenDefaultTTL is the lifetime granted to issued tokens when the
	// issue request names none.
	TokenDefaultTTL = "token-default-ttl"

	// AdminToken is the static bearer token that grants access to the
	// administrative endpoints. Empty leaves them unreachable.
	AdminToken = "admin-token"

	// APIPort is the TCP port the REST API listens on.
	APIPort = "api-port"

	// RedisEndpoints is a comma separated list of redis server
	// addresses.
	RedisEndpoints = "redis-endpoints"

	// RedisMaster names the sentinel-monitored master set.
	RedisMaster = "redis-master"

	// RedisSentinel selects sentinel (failover) dialling.
	RedisSentinel = "redis-sentinel"

	// RedisPassword authenticates against the redis servers.
	RedisPassword = "redis-password"

	// RedisPrefix namespaces every key the redis backend writes.
	RedisPrefix = "redis-prefix"

	// MongoEndpoints is a comma separated list of mongod addresses.
	MongoEndpoints = "mongo-endpoints"

	// MongoDatabase names the database the mongo backend writes to.
	MongoDatabase = "mongo-database"

	// MongoUser and MongoPassword authenticate against mongod.
	MongoUser     = "mongo-user"
	MongoPassword = "mongo-password"

	// SQLDSN is the sqlite data source name.
	SQLDSN = "sql-dsn"

	// ShutdownTimeout bounds how long a stopping daemon waits for
	// in-flight requests to drain.
	ShutdownTimeout = "shutdown-timeout"

	// LoggingConfig configures loggo module levels.
	LoggingConfig = "logging-config"
)

// Environment variables recognised by the daemon, one per attribute.
const (
	BackendEnvKey         = "MQUEUE_BACKEND"
	AuthModeEnvKey        = "MQUEUE_AUTH_MODE"
	TokenSecretEnvKey     = "MQUEUE_TOKEN_SECRET"
	TokenDefaultTTLEnvKey = "MQUEUE_TOKEN_DEFAULT_TTL"
	AdminTokenEnvKey      = "MQUEUE_ADMIN_TOKEN"
	APIPortEnvKey         = "MQUEUE_API_PORT"
	RedisEndpointsEnvKey  = "MQUEUE_REDIS_ENDPOINTS"
	RedisMasterEnvKey     = "MQUEUE_REDIS_MASTER"
	RedisSentinelEnvKey   = "MQUEUE_REDIS_SENTINEL"
	RedisPasswordEnvKey   = "MQUEUE_REDIS_PASSWORD"
	RedisPrefixEnvKey     = "MQUEUE_REDIS_PREFIX"
	MongoEndpointsEnvKey  = "MQUEUE_MONGO_ENDPOINTS"
	MongoDatabaseEnvKey   = "MQUEUE_MONGO_DATABASE"
	MongoUserEnvKey       = "MQUEUE_MONGO_USER"
	MongoPasswordEnvKey   = "MQUEUE_MONGO_PASSWORD"
	SQLDSNEnvKey          = "MQUEUE_SQL_DSN"
	ShutdownTimeoutEnvKey = "MQUEUE_SHUTDOWN_TIMEOUT"
	LoggingConfigEnvKey   = "MQUEUE_LOGGING_CONFIG"
)

// Defaults for attributes that have one.
const (
	DefaultBackend         = BackendMemory
	DefaultAPIPort         = 17070
	DefaultTokenTTL        = time.Hour
	DefaultRedisEndpoints  = "localhost:6379"
	DefaultRedisPrefix     = "mqueue:"
	DefaultMongoEndpoints  = "localhost:27017"
	DefaultMongoDatabase   = "mqueue"
	DefaultSQLDSN          = "file:mqueue.db?_fk=1"
	DefaultShutdownTimeout = 30 * time.Second

	redisDefaultPort = "6379"
	mongoDefaultPort = "27017"
)

// envKeys maps each attribute to the environment variable that sets it.
var envKeys = map[string]string{
	Backend:         BackendEnvKey,
	AuthMode:        AuthModeEnvKey,
	TokenSecret:     TokenSecretEnvKey,
	TokenDefaultTTL: TokenDefaultTTLEnvKey,
	AdminToken:      AdminTokenEnvKey,
	APIPort:         APIPortEnvKey,
	RedisEndpoints:  RedisEndpointsEnvKey,
	RedisMaster:     RedisMasterEnvKey,
	RedisSentinel:   RedisSentinelEnvKey,
	RedisPassword:   RedisPasswordEnvKey,
	RedisPrefix:     RedisPrefixEnvKey,
	MongoEndpoints:  MongoEndpointsEnvKey,
	MongoDatabase:   MongoDatabaseEnvKey,
	MongoUser:       MongoUserEnvKey,
	MongoPassword:   MongoPasswordEnvKey,
	SQLDSN:          SQLDSNEnvKey,
	ShutdownTimeout: ShutdownTimeoutEnvKey,
	LoggingConfig:   LoggingConfigEnvKey,
}

// secretAttributes are never echoed through introspection surfaces.
var secretAttributes = set.NewStrings(
	TokenSecret,
	AdminToken,
	RedisPassword,
	MongoPassword,
)

var configFields = schema.Fields{
	Backend:         schema.String(),
	AuthMode:        schema.String(),
	TokenSecret:     schema.String(),
	TokenDefaultTTL: schema.TimeDurationString(),
	AdminToken:      schema.String(),
	APIPort:         schema.ForceInt(),
	RedisEndpoints:  schema.NonEmptyString(RedisEndpoints),
	RedisMaster:     schema.String(),
	RedisSentinel:   schema.Bool(),
	RedisPassword:   schema.String(),
	RedisPrefix:     schema.NonEmptyString(RedisPrefix),
	MongoEndpoints:  schema.NonEmptyString(MongoEndpoints),
	MongoDatabase:   schema.NonEmptyString(MongoDatabase),
	MongoUser:       schema.String(),
	MongoPassword:   schema.String(),
	SQLDSN:          schema.NonEmptyString(SQLDSN),
	ShutdownTimeout: schema.TimeDurationString(),
	LoggingConfig:   schema.String(),
}

var configDefaults = schema.Defaults{
	Backend:         DefaultBackend,
	AuthMode:        string(authmode.None),
	TokenSecret:     schema.Omit,
	TokenDefaultTTL: DefaultTokenTTL,
	AdminToken:      schema.Omit,
	APIPort:         DefaultAPIPort,
	RedisEndpoints:  DefaultRedisEndpoints,
	RedisMaster:     schema.Omit,
	RedisSentinel:   false,
	RedisPassword:   schema.Omit,
	RedisPrefix:     DefaultRedisPrefix,
	MongoEndpoints:  DefaultMongoEndpoints,
	MongoDatabase:   DefaultMongoDatabase,
	MongoUser:       schema.Omit,
	MongoPassword:   schema.Omit,
	SQLDSN:          DefaultSQLDSN,
	ShutdownTimeout: DefaultShutdownTimeout,
	LoggingConfig:   schema.Omit,
}

var configChecker = schema.FieldMap(configFields, configDefaults)

// Settings is a string-keyed map of daemon configuration attributes.
type Settings map[string]interface{}

// New returns validated Settings built from attrs, filling defaults for
// anything unset. Attribute values may arrive as strings (the
// environment form); coercion converts ports, booleans and durations.
// Unknown attributes are logged and dropped.
func New(attrs map[string]interface{}) (Settings, error) {
	for name := range attrs {
		if _, ok := configFields[name]; !ok {
			logger.Warningf("ignoring unknown settings attribute %q", name)
		}
	}
	coerced, err := configChecker.Coerce(attrs, nil)
	if err != nil {
		return nil, errors.Trace(err)
	}
	s := Settings(coerced.(map[string]interface{}))
	if err := s.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return s, nil
}

// Load builds Settings from the YAML file at path, if path is not empty,
// overlaid with any MQUEUE_* environment variables. Environment values
// win over file values.
func Load(path string) (Settings, error) {
	attrs := make(map[string]interface{})
	if path != "" {
		fileAttrs, err := ReadFile(path)
		if err != nil {
			return nil, errors.Trace(err)
		}
		for k, v := range fileAttrs {
			attrs[k] = v
		}
	}
	for k, v := range FromEnvironment() {
		attrs[k] = v
	}
	return New(attrs)
}

// FromEnvironment returns the attributes set through MQUEUE_*
// environment variables. Unset variables contribute nothing; a variable
// set to the empty string counts as set.
func FromEnvironment() map[string]interface{} {
	attrs := make(map[string]interface{})
	for attr, envKey := range envKeys {
		if value, ok := os.LookupEnv(envKey); ok {
			attrs[attr] = value
		}
	}
	return attrs
}

// ReadFile returns the attributes held in the YAML file at path.
func ReadFile(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	attrs := make(map[string]interface{})
	if err := yaml.Unmarshal(data, &attrs); err != nil {
		return nil, errors.Annotatef(err, "parsing settings file %q", path)
	}
	return attrs, nil
}

// Validate checks that the settings are internally consistent.
func (s Settings) Validate() error {
	switch b := s.asString(Backend); b {
	case BackendMemory, BackendSQL, BackendRedis, BackendMongo:
	default:
		return errors.NotValidf("backend %q", b)
	}
	mode, err := authmode.Parse(s.asString(AuthMode))
	if err != nil {
		return errors.Trace(err)
	}
	if mode.RequiresToken() && s.TokenSecret() == "" {
		return errors.NotValidf("auth mode %q without a token secret", mode)
	}
	if port, _ := s[APIPort].(int); port < 1 || port > 65535 {
		return errors.NotValidf("api port %d", port)
	}
	if s.TokenDefaultTTL() < 0 {
		return errors.NotValidf("negative token default ttl")
	}
	if s.ShutdownTimeout() < 0 {
		return errors.NotValidf("negative shutdown timeout")
	}
	if s.RedisSentinel() && s.RedisMaster() == "" {
		return errors.NotValidf("redis sentinel without a master name")
	}
	if _, err := normalizeEndpoints(s.asString(RedisEndpoints), redisDefaultPort); err != nil {
		return errors.Annotate(err, "redis endpoints")
	}
	if _, err := normalizeEndpoints(s.asString(MongoEndpoints), mongoDefaultPort); err != nil {
		return errors.Annotate(err, "mongo endpoints")
	}
	return nil
}

// Backend returns the configured storage backend kind.
func (s Settings) Backend() string {
	return s.mustString(Backend)
}

// AuthMode returns the configured access control mode.
func (s Settings) AuthMode() authmode.Mode {
	return authmode.Mode(s.mustString(AuthMode))
}

// TokenSecret returns the token signing secret, empty when tokens are
// not in use.
func (s Settings) TokenSecret() string {
	return s.asString(TokenSecret)
}

// TokenDefaultTTL returns the lifetime granted to issued tokens when
// the issue request names none.
func (s Settings) TokenDefaultTTL() time.Duration {
	return s.asDuration(TokenDefaultTTL)
}

// AdminToken returns the static administrative bearer token, empty when
// the administrative endpoints are disabled.
func (s Settings) AdminToken() string {
	return s.asString(AdminToken)
}

// APIPort returns the TCP port the REST API listens on.
func (s Settings) APIPort() int {
	return s.mustInt(APIPort)
}

// RedisEndpoints returns the redis server addresses, each carrying an
// explicit port.
func (s Settings) RedisEndpoints() []string {
	eps, err := normalizeEndpoints(s.mustString(RedisEndpoints), redisDefaultPort)
	if err != nil {
		panic(err) // Already checked by Validate.
	}
	return eps
}

// RedisMaster returns the sentinel master set name.
func (s Settings) RedisMaster() string {
	return s.asString(RedisMaster)
}

// RedisSentinel reports whether the redis backend dials through
// sentinel.
func (s Settings) RedisSentinel() bool {
	value, _ := s[RedisSentinel].(bool)
	return value
}

// RedisPassword returns the redis password, empty for none.
func (s Settings) RedisPassword() string {
	return s.asString(RedisPassword)
}

// RedisPrefix returns the key namespace prefix for the redis backend.
func (s Settings) RedisPrefix() string {
	return s.mustString(RedisPrefix)
}

// MongoEndpoints returns the mongod addresses, each carrying an
// explicit port.
func (s Settings) MongoEndpoints() []string {
	eps, err := normalizeEndpoints(s.mustString(MongoEndpoints), mongoDefaultPort)
	if err != nil {
		panic(err) // Already checked by Validate.
	}
	return eps
}

// MongoDatabase returns the database name for the mongo backend.
func (s Settings) MongoDatabase() string {
	return s.mustString(MongoDatabase)
}

// MongoUser returns the mongo user name, empty for unauthenticated
// access.
func (s Settings) MongoUser() string {
	return s.asString(MongoUser)
}

// MongoPassword returns the mongo password.
func (s Settings) MongoPassword() string {
	return s.asString(MongoPassword)
}

// SQLDSN returns the sqlite data source name.
func (s Settings) SQLDSN() string {
	return s.mustString(SQLDSN)
}

// ShutdownTimeout returns how long a stopping daemon waits for
// in-flight requests to drain.
func (s Settings) ShutdownTimeout() time.Duration {
	return s.asDuration(ShutdownTimeout)
}

// LoggingConfig returns the loggo module level configuration, empty for
// the defaults.
func (s Settings) LoggingConfig() string {
	return s.asString(LoggingConfig)
}

// NonSecret returns a copy of the settings with every secret-bearing
// attribute removed. Durations are rendered as strings so the result
// marshals cleanly.
func (s Settings) NonSecret() map[string]interface{} {
	out := make(map[string]interface{}, len(s))
	for k, v := range s {
		if secretAttributes.Contains(k) {
			continue
		}
		if d, ok := v.(time.Duration); ok {
			v = d.String()
		}
		out[k] = v
	}
	return out
}

// asString returns the named attribute as a string, empty if it is
// unset.
func (s Settings) asString(name string) string {
	value, _ := s[name].(string)
	return value
}

// asDuration returns the named attribute as a duration, zero if it is
// unset.
func (s Settings) asDuration(name string) time.Duration {
	value, _ := s[name].(time.Duration)
	return value
}

// mustString returns the named attribute as a string, panicking if it
// is unset or empty.
func (s Settings) mustString(name string) string {
	value, _ := s[name].(string)
	if value == "" {
		panic(errors.Errorf("empty value for %q found in settings", name))
	}
	return value
}

// mustInt returns the named attribute as an int, panicking if it is
// unset or zero.
func (s Settings) mustInt(name string) int {
	value, _ := s[name].(int)
	if value == 0 {
		panic(errors.Errorf("empty value for %q found in settings", name))
	}
	return value
}

// normalizeEndpoints splits a comma separated endpoint list, trimming
// whitespace, dropping empty entries and applying defaultPort to any
// endpoint that names none. IPv6 hosts without a port must be given in
// brackets.
func normalizeEndpoints(raw, defaultPort string) ([]string, error) {
	var eps []string
	for _, part := range strings.Split(raw, ",") {
		ep := strings.TrimSpace(part)
		if ep == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(ep); err != nil {
			var addrErr *net.AddrError
			if !errors.As(err, &addrErr) || !strings.Contains(addrErr.Err, "missing port") {
				return nil, errors.NotValidf("endpoint %q", ep)
			}
			ep = net.JoinHostPort(strings.Trim(ep, "[]"), defaultPort)
		}
		eps = append(eps, ep)
	}
	if len(eps) == 0 {
		return nil, errors.NotValidf("empty endpoint list")
	}
	return eps, nil
}
