package realtime

import (
	"fmt"
	"os"

	"github.com/mkarjala/foewatch-go/internal/conf"
	"github.com/mkarjala/foewatch-go/internal/service"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Command creates the command that runs the detection pipeline.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "realtime",
		Short: "Watch cameras in realtime mode",
		Long:  "Poll the configured cameras, classify what shows up and play deterrent sounds at intruders.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return service.Run(settings)
		},
	}

	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

// setupFlags configures flags specific to the realtime command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().IntVar(&settings.ChangeFilter.Threshold, "threshold", viper.GetInt("changefilter.threshold"), "Hamming distance at or above which a frame counts as changed")
	cmd.Flags().BoolVar(&settings.Cascade.Cloud.Enabled, "cloud", viper.GetBool("cascade.cloud.enabled"), "Allow cloud fallback for inconclusive frames")
	cmd.Flags().BoolVar(&settings.MQTT.Enabled, "mqtt", viper.GetBool("mqtt.enabled"), "Publish detections and deterrent attempts over MQTT")
	cmd.Flags().StringVar(&settings.API.Port, "port", viper.GetString("api.port"), "Listen port of the control API")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}

	return nil
}
