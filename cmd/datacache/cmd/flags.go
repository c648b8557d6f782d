// Copyright © 2018 One Concern

package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v2"

	"github.com/oneconcern/datacache/pkg/location"
)

type mappingFlags struct {
	inputs            []string
	outputs           []string
	mapFile           string
	rollbackOnFailure bool
}

// mapFileT is the content of a map file, in yaml or json.
//
// References are either URLs or objects with a bucket and a key:
//
//	inputs:
//	  model: s3://models/v2/model.bin
//	outputs:
//	  report:
//	    bucket: reports
//	    key: daily/report.json
type mapFileT struct {
	Inputs  map[string]location.Ref `json:"inputs" yaml:"inputs"`
	Outputs map[string]location.Ref `json:"outputs" yaml:"outputs"`
}

func addInputFlags(flags *pflag.FlagSet, f *mappingFlags) {
	flags.StringArrayVar(&f.inputs, "map", nil, "Remote object to stage locally, as key=ref (e.g. model=s3://bucket/model.bin). May be repeated")
	flags.StringVar(&f.mapFile, "map-file", "", "YAML or JSON file with inputs and outputs mappings")
}

func addOutputFlags(flags *pflag.FlagSet, f *mappingFlags) {
	flags.StringArrayVar(&f.outputs, "output", nil, "File to create locally and upload, as key=ref. May be repeated")
	flags.BoolVar(&f.rollbackOnFailure, "rollback-on-failure", false, "Delete uploaded objects if the command or an upload fails")
}

// mappings merges the map file with mappings from flags. Flags take precedence.
func (f *mappingFlags) mappings(fs afero.Fs) (inputs, outputs map[string]location.Ref, err error) {
	var fromFile mapFileT
	if f.mapFile != "" {
		fromFile, err = readMapFile(fs, f.mapFile)
		if err != nil {
			return nil, nil, err
		}
	}

	inputs, err = mergeMappings(fromFile.Inputs, f.inputs)
	if err != nil {
		return nil, nil, err
	}
	outputs, err = mergeMappings(fromFile.Outputs, f.outputs)
	if err != nil {
		return nil, nil, err
	}

	for key := range outputs {
		if _, ok := inputs[key]; ok {
			return nil, nil, fmt.Errorf("key %q is mapped both as an input and as an output", key)
		}
	}
	return inputs, outputs, nil
}

func mergeMappings(base map[string]location.Ref, pairs []string) (map[string]location.Ref, error) {
	merged := make(map[string]location.Ref, len(base)+len(pairs))
	for key, ref := range base {
		if err := checkKey(key); err != nil {
			return nil, fmt.Errorf("invalid mapping in map file: %w", err)
		}
		merged[key] = ref
	}
	for _, pair := range pairs {
		key, ref, err := parseMapping(pair)
		if err != nil {
			return nil, err
		}
		merged[key] = ref
	}
	return merged, nil
}

func parseMapping(pair string) (string, location.Ref, error) {
	key, ref, ok := strings.Cut(pair, "=")
	key = strings.TrimSpace(key)
	ref = strings.TrimSpace(ref)
	if !ok || key == "" || ref == "" {
		return "", location.Ref{}, fmt.Errorf("invalid mapping %q: expected key=ref", pair)
	}
	if err := checkKey(key); err != nil {
		return "", location.Ref{}, fmt.Errorf("invalid mapping %q: %w", pair, err)
	}
	return key, location.URL(ref), nil
}

// keys are substituted as {key} in the command line
func checkKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("empty key")
	}
	if strings.ContainsAny(key, "{}") {
		return fmt.Errorf("key %q may not contain braces", key)
	}
	return nil
}

func readMapFile(fs afero.Fs, path string) (mapFileT, error) {
	var m mapFileT

	b, err := afero.ReadFile(fs, path)
	if err != nil {
		return m, fmt.Errorf("reading map file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(b, &m)
	case ".yaml", ".yml":
		err = yaml.UnmarshalStrict(b, &m)
	default:
		return m, fmt.Errorf("unsupported map file %q: expected a .yaml, .yml or .json extension", path)
	}
	if err != nil {
		return m, fmt.Errorf("decoding map file %q: %w", path, err)
	}
	return m, nil
}
