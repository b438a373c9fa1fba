package models

import "sync"

// MarkerIcons are the asset URLs map clients use for ride markers.
type MarkerIcons struct {
	IconURL       string `json:"icon_url"`
	IconRetinaURL string `json:"icon_retina_url"`
	ShadowURL     string `json:"shadow_url"`
}

var (
	markerOnce  sync.Once
	markerIcons MarkerIcons
)

// DefaultMarkerIcons resolves the process-wide marker assets once.
func DefaultMarkerIcons() MarkerIcons {
	markerOnce.Do(func() {
		const base = "https://unpkg.com/leaflet@1.7.1/dist/images/"
		markerIcons = MarkerIcons{
			IconURL:       base + "marker-icon.png",
			IconRetinaURL: base + "marker-icon-2x.png",
			ShadowURL:     base + "marker-shadow.png",
		}
	})
	return markerIcons
}
