// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "FoeWatch")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "foewatch.log")

	viper.SetDefault("cameras", []map[string]any{})

	viper.SetDefault("changefilter.threshold", 15)
	viper.SetDefault("changefilter.forcesampleevery", 20)

	viper.SetDefault("cascade.detector.enabled", true)
	viper.SetDefault("cascade.detector.endpoint", "http://localhost:8081/detect")
	viper.SetDefault("cascade.detector.confidence", 0.35)
	viper.SetDefault("cascade.detector.timeout", 5*time.Second)
	viper.SetDefault("cascade.identifier.enabled", true)
	viper.SetDefault("cascade.identifier.endpoint", "http://localhost:8082/identify")
	viper.SetDefault("cascade.identifier.confidence", 0.6)
	viper.SetDefault("cascade.identifier.timeout", 15*time.Second)
	viper.SetDefault("cascade.cloud.enabled", false)
	viper.SetDefault("cascade.cloud.endpoint", "")
	viper.SetDefault("cascade.cloud.confidence", 0.5)
	viper.SetDefault("cascade.cloud.timeout", 20*time.Second)
	viper.SetDefault("cascade.cloud.costpercall", 0.0025)
	viper.SetDefault("cascade.cloud.rateperminute", 10)
	viper.SetDefault("cascade.cloud.fullframefallback", true)
	viper.SetDefault("cascade.cloud.cachettl", 10*time.Minute)
	viper.SetDefault("cascade.retrydelay", 500*time.Millisecond)

	viper.SetDefault("taxonomy.version", "1")
	viper.SetDefault("taxonomy.minconfidence", 0.5)
	viper.SetDefault("taxonomy.foes", map[string][]string{})
	viper.SetDefault("taxonomy.friends", map[string][]string{})

	viper.SetDefault("deterrent.exploreprobability", 0.5)
	viper.SetDefault("deterrent.observationwindow", 120*time.Second)
	viper.SetDefault("deterrent.playbacktimeout", 10*time.Second)
	viper.SetDefault("deterrent.playercommand", []string{"ffplay", "-nodisp", "-autoexit", "-loglevel", "quiet"})

	viper.SetDefault("scheduler.unhealthyafter", 3)
	viper.SetDefault("scheduler.backoffceiling", 10*time.Minute)
	viper.SetDefault("scheduler.capturetimeout", 10*time.Second)
	viper.SetDefault("scheduler.shutdowngrace", 30*time.Second)
	viper.SetDefault("scheduler.diagnosticlimit", 100)

	viper.SetDefault("output.sqlite.enabled", true)
	viper.SetDefault("output.sqlite.path", "foewatch.db")
	viper.SetDefault("output.mysql.enabled", false)
	viper.SetDefault("output.mysql.username", "foewatch")
	viper.SetDefault("output.mysql.password", "foewatch")
	viper.SetDefault("output.mysql.database", "foewatch")
	viper.SetDefault("output.mysql.host", "localhost")
	viper.SetDefault("output.mysql.port", "3306")

	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("mqtt.topic", "foewatch")

	viper.SetDefault("api.enabled", true)
	viper.SetDefault("api.host", "0.0.0.0")
	viper.SetDefault("api.port", "8090")
}
