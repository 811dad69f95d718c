package model

import (
	"fmt"
	"strings"
)

// Build constructs the architecture registered under kind.
func Build(kind string, cfg Config) (Model, error) {
	switch strings.ToLower(kind) {
	case "unet":
		u, err := NewUNet(cfg)
		if err != nil {
			return nil, err
		}
		return u, nil
	case "recurrentunet", "recurrent_unet":
		r, err := NewRecurrentUNet(cfg)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
	return nil, fmt.Errorf("unknown architecture %q (have UNet, RecurrentUNet)", kind)
}
