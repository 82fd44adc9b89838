package config

import (
	"net"

	"github.com/grdisco/grdisco/logger"
	"github.com/spf13/viper"
)

var migrationScripts = map[string]func(string, *viper.Viper) string{
	"0.2.0": migrate020To030,
}

// migrate migrates an old config schema to the latest one.
// migrate looks up a migration script for the version old and applies it to v.
// The script returns the version it migrated to, and migrate repeats this
// until no script is found for the returned version.
func migrate(old string, v *viper.Viper) {
	f, ok := migrationScripts[old]
	if !ok {
		return
	}
	updatedVer := f(old, v)
	migrate(updatedVer, v)
}

// migrate020To030 migrates a v0.2.0 or older config to v0.3.0 config.
func migrate020To030(old string, v *viper.Viper) string {
	const updatedVer = "0.3.0"

	v.Set("meta.configVersion", updatedVer)

	// v0.3.0 merged server.host and server.port into server.endpoint.
	host, port := v.GetString("server.host"), v.GetString("server.port")
	if v.GetString("server.endpoint") == "" && host != "" && port != "" {
		v.Set("server.endpoint", net.JoinHostPort(host, port))
	}

	// v0.3.0 moved server.tls to security.tls.
	if v.IsSet("server.tls") {
		v.Set("security.tls", v.GetBool("server.tls"))
	}

	logger.Printf("config migrated from v%s to v%s", old, updatedVer)
	return updatedVer
}
