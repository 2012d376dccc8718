// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints declared on the config structs plus the
// cross-field rules the tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(fields, ", "))
		}
		return err
	}

	if c.HTTP.RetryMaxWait > 0 && c.HTTP.RetryMaxWait < c.HTTP.RetryBaseWait {
		return fmt.Errorf("http.retry_max_wait (%s) must be >= http.retry_base_wait (%s)",
			c.HTTP.RetryMaxWait, c.HTTP.RetryBaseWait)
	}
	if c.LabelSync.Enabled && !strings.Contains(c.LabelSync.LabelFormat, "{user}") {
		return fmt.Errorf("label_sync.label_format must contain the {user} placeholder")
	}
	if c.Approval.Expiry > 0 && c.Approval.Retention > 0 && c.Approval.Retention < c.Approval.Expiry {
		return fmt.Errorf("approval.retention (%s) must be >= approval.expiry (%s)",
			c.Approval.Retention, c.Approval.Expiry)
	}
	return nil
}
