// Package config loads backend configuration from YAML into the structs
// the Kerberos and directory providers are built from. The on-disk format
// mirrors the configuration keys in spec §6, plus the fields the ambient
// and domain stack expansions add (logging, directory schema, enumeration
// cadence).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// TLSRequireCert mirrors the library-wide TLS certificate-checking option
// named in spec §6.
type TLSRequireCert string

const (
	TLSRequireNever  TLSRequireCert = "never"
	TLSRequireAllow  TLSRequireCert = "allow"
	TLSRequireTry    TLSRequireCert = "try"
	TLSRequireDemand TLSRequireCert = "demand"
	TLSRequireHard   TLSRequireCert = "hard"
)

// KerberosConfig holds the configuration keys spec §6 lists for the
// Kerberos provider.
type KerberosConfig struct {
	KDCIP             string `yaml:"krb5KDCIP"`
	Realm             string `yaml:"krb5REALM"`
	TrySimpleUPN      bool   `yaml:"krb5try_simple_upn"`
	ChangePwPrincipal string `yaml:"krb5changepw_principle"`
	CacheCredentials  bool   `yaml:"cache_credentials"`
	HelperPath        string `yaml:"krb5_helper_path"`
	HelperDir         string `yaml:"krb5_helper_dir"`
}

// DirectoryConfig holds the directory provider's connection and schema
// settings. Most fields here are expansion additions (§SPEC_FULL §B.3);
// the wire protocol itself is out of scope (spec §1, §6).
type DirectoryConfig struct {
	Address  string `yaml:"ldap_uri"`
	StartTLS bool   `yaml:"ldap_start_tls"`
	BindDN   string `yaml:"ldap_default_bind_dn"`
	BindPW   string `yaml:"ldap_default_authtok"`

	UserBaseDN      string   `yaml:"ldap_user_search_base"`
	UserNameAttr    string   `yaml:"ldap_user_name"`
	UserIDAttr      string   `yaml:"ldap_user_uid_number"`
	UserObjectClass string   `yaml:"ldap_user_object_class"`
	UserModstamp    string   `yaml:"ldap_user_modify_timestamp"`
	UserAttrs       []string `yaml:"ldap_user_extra_attrs"`

	GroupBaseDN      string   `yaml:"ldap_group_search_base"`
	GroupNameAttr    string   `yaml:"ldap_group_name"`
	GroupIDAttr      string   `yaml:"ldap_group_gid_number"`
	GroupObjectClass string   `yaml:"ldap_group_object_class"`
	GroupModstamp    string   `yaml:"ldap_group_modify_timestamp"`
	GroupMemberAttr  string   `yaml:"ldap_group_member"`
	GroupAttrs       []string `yaml:"ldap_group_extra_attrs"`

	OfflineTimeout time.Duration `yaml:"offline_timeout"`

	EnumerateEnabled bool          `yaml:"enumerate"`
	EnumRefresh      time.Duration `yaml:"enum_refresh_timeout"`
}

// Config is the top-level backend configuration.
type Config struct {
	Kerberos  KerberosConfig  `yaml:"kerberos"`
	Directory DirectoryConfig `yaml:"directory"`

	TLSRequireCert TLSRequireCert `yaml:"tls_reqcert"`

	CachePath string `yaml:"cache_path"`

	LogLevel     string `yaml:"log_level"`
	LogPath      string `yaml:"log_path"`
	LogMaxSizeMB int    `yaml:"log_max_size_mb"`
	LogBackups   int    `yaml:"log_backups"`
}

// DefaultConfig returns a Config with the defaults spec §6 specifies,
// plus reasonable defaults for the expansion-added fields.
func DefaultConfig() Config {
	return Config{
		Kerberos: KerberosConfig{
			TrySimpleUPN:      false,
			ChangePwPrincipal: "kadmin/changepw",
			HelperDir:         "/",
		},
		Directory: DirectoryConfig{
			UserObjectClass:  "posixAccount",
			UserNameAttr:     "uid",
			UserIDAttr:       "uidNumber",
			UserModstamp:     "modifyTimestamp",
			GroupObjectClass: "posixGroup",
			GroupNameAttr:    "cn",
			GroupIDAttr:      "gidNumber",
			GroupModstamp:    "modifyTimestamp",
			GroupMemberAttr:  "memberUid",
			OfflineTimeout:   60 * time.Second,
			EnumRefresh:      4 * time.Hour,
		},
		LogLevel:     "info",
		LogMaxSizeMB: 10,
		LogBackups:   3,
	}
}

// Load reads and parses a YAML config file, applying it over
// DefaultConfig so any field the file omits keeps its default.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the subset of configuration that is fatal at init if
// missing (spec §7: configuration errors are fatal at init).
func (c Config) Validate() error {
	if c.Kerberos.ChangePwPrincipal == "" {
		return fmt.Errorf("config: krb5changepw_principle must not be empty")
	}
	switch c.TLSRequireCert {
	case "", TLSRequireNever, TLSRequireAllow, TLSRequireTry, TLSRequireDemand, TLSRequireHard:
	default:
		return fmt.Errorf("config: invalid tls_reqcert %q", c.TLSRequireCert)
	}
	return nil
}

// ChangePwPrincipalFQ returns the change-password principal with the
// realm suffix appended if it doesn't already carry one (spec §6: "realm
// is appended if missing").
func (c Config) ChangePwPrincipalFQ() string {
	principal := c.Kerberos.ChangePwPrincipal
	if principal == "" {
		principal = "kadmin/changepw"
	}
	for _, r := range principal {
		if r == '@' {
			return principal
		}
	}
	if c.Kerberos.Realm == "" {
		return principal
	}
	return principal + "@" + c.Kerberos.Realm
}
