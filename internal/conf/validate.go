// validate.go: startup validation of loaded settings
package conf

import (
	"errors"
	"fmt"
)

// ValidateSettings checks the loaded settings for misconfiguration that would
// otherwise only surface mid-pipeline. It collects all problems before failing.
func ValidateSettings(settings *Settings) error {
	var errs []error

	if settings.ChangeFilter.Threshold < 0 || settings.ChangeFilter.Threshold > 64 {
		errs = append(errs, fmt.Errorf("changefilter.threshold must be within 0..64, got %d", settings.ChangeFilter.Threshold))
	}
	if settings.ChangeFilter.ForceSampleEvery < 0 {
		errs = append(errs, fmt.Errorf("changefilter.forcesampleevery must not be negative, got %d", settings.ChangeFilter.ForceSampleEvery))
	}

	if p := settings.Deterrent.ExploreProbability; p < 0 || p > 1 {
		errs = append(errs, fmt.Errorf("deterrent.exploreprobability must be within 0..1, got %f", p))
	}
	if settings.Deterrent.ObservationWindow <= 0 {
		errs = append(errs, errors.New("deterrent.observationwindow must be positive"))
	}

	if settings.Taxonomy.MinConfidence < 0 || settings.Taxonomy.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("taxonomy.minconfidence must be within 0..1, got %f", settings.Taxonomy.MinConfidence))
	}
	// A species label mapped both as foe and friend is ambiguous and
	// resolves differently depending on map iteration order.
	seen := make(map[string]string)
	for category, labels := range settings.Taxonomy.Foes {
		for _, label := range labels {
			seen[label] = category
		}
	}
	for category, labels := range settings.Taxonomy.Friends {
		for _, label := range labels {
			if foeCategory, ok := seen[label]; ok {
				errs = append(errs, fmt.Errorf("taxonomy: label %q mapped as foe %q and friend %q", label, foeCategory, category))
			}
		}
	}

	ids := make(map[string]bool)
	for i, camera := range settings.Cameras {
		if camera.ID == "" {
			errs = append(errs, fmt.Errorf("cameras[%d]: id is required", i))
			continue
		}
		if ids[camera.ID] {
			errs = append(errs, fmt.Errorf("cameras[%d]: duplicate camera id %q", i, camera.ID))
		}
		ids[camera.ID] = true
		if camera.Enabled && camera.PollInterval <= 0 {
			errs = append(errs, fmt.Errorf("camera %q: pollinterval must be positive", camera.ID))
		}
	}

	if settings.Scheduler.UnhealthyAfter < 1 {
		errs = append(errs, fmt.Errorf("scheduler.unhealthyafter must be at least 1, got %d", settings.Scheduler.UnhealthyAfter))
	}
	if settings.Scheduler.BackoffCeiling <= 0 {
		errs = append(errs, errors.New("scheduler.backoffceiling must be positive"))
	}

	if settings.Output.SQLite.Enabled && settings.Output.MySQL.Enabled {
		errs = append(errs, errors.New("output: only one of sqlite and mysql may be enabled"))
	}
	if !settings.Output.SQLite.Enabled && !settings.Output.MySQL.Enabled {
		errs = append(errs, errors.New("output: one of sqlite or mysql must be enabled"))
	}

	if settings.MQTT.Enabled && settings.MQTT.Broker == "" {
		errs = append(errs, errors.New("mqtt.broker is required when mqtt is enabled"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
