package main

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	hyperbit "github.com/mirrorwish/hyperbit"
)

func SetupConfig() {
	// a .env is optional, real environment variables win
	if err := godotenv.Load(); err == nil {
		log.Debug("Loaded .env")
	}

	viper.SetConfigName("hyperbitd")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.hyperbit")
	viper.AddConfigPath("/etc/hyperbit")

	viper.SetEnvPrefix("hyperbit")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	def := hyperbit.DefaultConfig()

	viper.SetDefault("network", map[string]interface{}{
		"proxy":            string(def.Proxy),
		"tor_host":         def.TorHost,
		"tor_port":         def.TorPort,
		"trusted_host":     def.TrustedHost,
		"trusted_port":     def.TrustedPort,
		"listen_port":      def.ListenPort,
		"connection_count": def.ConnectionCount,
		"known_peers":      def.KnownPeers,
		"stream":           def.Stream,
	})

	viper.SetDefault("data", map[string]string{
		"path": def.DataDir,
	})

	viper.SetDefault("log", map[string]string{
		"level": "info",
	})

	err := viper.ReadInConfig()

	if err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			panic(fmt.Errorf("Fatal error loading config file: %s \n", err))
		}

		log.Info("No config file found, using defaults")
	}

	viper.WatchConfig()

	// the network config is read once, only the log level applies live
	viper.OnConfigChange(func(e fsnotify.Event) {
		log.Info("Config file changed, reloading: ", e.Name)
		SetupLogLevel()
	})
}

func SetupLogLevel() {
	level, err := log.ParseLevel(viper.GetString("log.level"))

	if err != nil {
		log.Error(err.Error())
		return
	}

	log.SetLevel(level)
}

func LoadConfig() hyperbit.Config {
	config := hyperbit.DefaultConfig()

	config.Proxy = hyperbit.ProxyMode(viper.GetString("network.proxy"))
	config.TorHost = viper.GetString("network.tor_host")
	config.TorPort = viper.GetInt("network.tor_port")
	config.TrustedHost = viper.GetString("network.trusted_host")
	config.TrustedPort = viper.GetInt("network.trusted_port")
	config.ListenPort = viper.GetInt("network.listen_port")
	config.ConnectionCount = viper.GetInt("network.connection_count")
	config.KnownPeers = viper.GetStringSlice("network.known_peers")
	config.Stream = viper.GetUint64("network.stream")
	config.DataDir = viper.GetString("data.path")

	return config
}
