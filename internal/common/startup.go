package common

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/weaveworks/promrus"

	commonconfig "github.com/armadaproject/runplane/internal/common/config"
)

const baseConfigFileName = "config"

// RFC3339Millis
const logTimestampFormat = "2006-01-02T15:04:05.999Z07:00"

func BindCommandlineArguments() {
	err := viper.BindPFlags(pflag.CommandLine)
	if err != nil {
		log.Error(err)
		os.Exit(-1)
	}
}

// LoadConfig reads the base config file found in defaultPath, merges any user supplied
// files on top of it in order, applies RUNPLANE_ prefixed environment overrides and
// unmarshals the result into config.
func LoadConfig(config interface{}, defaultPath string, overrideConfigs []string) (*viper.Viper, error) {
	v := viper.New()

	v.SetConfigName(baseConfigFileName)
	v.AddConfigPath(defaultPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "error reading base config path=%s", defaultPath)
	}
	log.Infof("Read base config from %s", v.ConfigFileUsed())

	for _, overrideConfig := range overrideConfigs {
		v.SetConfigFile(overrideConfig)
		if err := v.MergeInConfig(); err != nil {
			return nil, errors.Wrapf(err, "error reading config from %s", overrideConfig)
		}
		log.Infof("Read config from %s", v.ConfigFileUsed())
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("RUNPLANE")
	v.AutomaticEnv()

	if err := v.Unmarshal(config, commonconfig.CustomHooks...); err != nil {
		return nil, errors.WithStack(err)
	}
	return v, nil
}

func ConfigureLogging() {
	log.SetLevel(readEnvironmentLogLevel())
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true, TimestampFormat: logTimestampFormat})
	log.SetOutput(os.Stdout)
	log.AddHook(promrus.MustNewPrometheusHook())
}

func readEnvironmentLogLevel() log.Level {
	level, ok := os.LookupEnv("LOG_LEVEL")
	if ok {
		logLevel, err := log.ParseLevel(level)
		if err == nil {
			return logLevel
		}
	}
	return log.InfoLevel
}

// ServeMetricsAndHealth exposes /metrics and, when a handler is supplied, /health on the given port.
func ServeMetricsAndHealth(port uint16, healthHandler http.Handler) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if healthHandler != nil {
		mux.Handle("/health", healthHandler)
	}
	return ServeHttp(port, mux)
}

func ServeHttp(port uint16, mux http.Handler) func() {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		log.Printf("Starting http server listening on %d", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("http server stopped unexpectedly")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		log.Printf("Stopping http server listening on %d", port)
		if err := srv.Shutdown(ctx); err != nil {
			log.WithError(err).Error("failed to stop http server")
		}
	}
}
