package voicebank

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// ManifestFile is the top-level structure of a voicebank manifest YAML file
// loaded at worker startup to seed a [Registry].
//
// Example:
//
//	voicebanks:
//	  - id: "yuki-ja"
//	    name: "Yuki"
//	    language: "ja"
//	    sample_rate_hz: 44100
type ManifestFile struct {
	Voicebanks []Info `yaml:"voicebanks"`
}

// LoadManifestFile reads and parses a voicebank manifest YAML file from disk.
func LoadManifestFile(path string) (*ManifestFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("voicebank: open manifest %q: %w", path, err)
	}
	defer f.Close()

	mf, err := LoadManifestFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("voicebank: parse manifest %q: %w", path, err)
	}
	return mf, nil
}

// LoadManifestFromReader parses a voicebank manifest from an [io.Reader].
func LoadManifestFromReader(r io.Reader) (*ManifestFile, error) {
	var mf ManifestFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&mf); err != nil {
		return nil, fmt.Errorf("voicebank: decode manifest yaml: %w", err)
	}
	return &mf, nil
}

// Seed registers every entry of manifest into reg, skipping (and reporting)
// invalid or duplicate entries rather than aborting the whole load.
func Seed(reg *Registry, manifest *ManifestFile) (added int, skipped []string) {
	for _, info := range manifest.Voicebanks {
		if !info.IsValid() {
			skipped = append(skipped, info.ID)
			continue
		}
		if err := reg.Add(info); err != nil {
			skipped = append(skipped, info.ID)
			continue
		}
		added++
	}
	return added, skipped
}
