package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/trufnetwork/fdc-relay/attestation"
)

// SpecFile is the YAML form of an attestation request:
//
//	type: Web2Json
//	source_id: PublicWeb2
//	consumer: sportsmarket
//	request_body:
//	  url: https://...
//	response_abi: '{"type":"tuple","components":[...]}'
type SpecFile struct {
	Type        string         `yaml:"type"`
	SourceID    string         `yaml:"source_id"`
	Consumer    string         `yaml:"consumer"`
	RequestBody map[string]any `yaml:"request_body"`
	ResponseABI string         `yaml:"response_abi"`
}

// LoadSpecFile reads and validates a spec file.
func LoadSpecFile(path string) (attestation.Spec, SpecFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return attestation.Spec{}, SpecFile{}, fmt.Errorf("read spec file: %w", err)
	}
	return ParseSpec(raw)
}

func ParseSpec(raw []byte) (attestation.Spec, SpecFile, error) {
	var f SpecFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return attestation.Spec{}, SpecFile{}, fmt.Errorf("parse spec file: %w", err)
	}
	spec, err := attestation.NewSpec(attestation.Type(f.Type), attestation.SourceID(f.SourceID), f.RequestBody, f.ResponseABI)
	if err != nil {
		return attestation.Spec{}, SpecFile{}, fmt.Errorf("invalid spec file: %w", err)
	}
	return spec, f, nil
}
