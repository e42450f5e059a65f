package generator

import (
	"fmt"
	"io"
	"os"

	"sigs.k8s.io/yaml"

	"github.com/gofhir/modelinfo/pkg/modelinfo"
)

// WriteYAML writes the assembled models as YAML for inspection. The layout follows
// the models' JSON encoding.
func WriteYAML(w io.Writer, models []*modelinfo.ModelInfo) error {
	out, err := yaml.Marshal(models)
	if err != nil {
		return fmt.Errorf("encode models: %w", err)
	}
	_, err = w.Write(out)
	return err
}

// DumpFile writes the YAML dump to path.
func DumpFile(path string, models []*modelinfo.ModelInfo) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteYAML(f, models); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
