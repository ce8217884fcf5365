package resource

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk descriptor format.
//
//	resources:
//	  - name: users
//	    table: users
//	    primary_key: [id]
//	    fields:
//	      - {name: id, type: integer}
//	      - {name: email, type: text}
//	    associations:
//	      posts: {kind: has_many, related: posts, parent_key: id, child_key: user_id}
type File struct {
	Resources []fileResource `yaml:"resources"`
}

type fileResource struct {
	Name         string                  `yaml:"name"`
	Schema       string                  `yaml:"schema"`
	Table        string                  `yaml:"table"`
	PrimaryKey   []string                `yaml:"primary_key"`
	Fields       []fileField             `yaml:"fields"`
	Associations map[string]*Association `yaml:"associations"`
}

type fileField struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// Load decodes descriptors from r. Hooks are attached by the caller before
// passing the result to Build.
func Load(r io.Reader) ([]*Resource, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode resources: %w", err)
	}

	out := make([]*Resource, 0, len(f.Resources))
	for _, fr := range f.Resources {
		res := &Resource{
			Name:         fr.Name,
			Schema:       fr.Schema,
			Table:        fr.Table,
			PrimaryKey:   fr.PrimaryKey,
			Associations: fr.Associations,
		}
		for _, ff := range fr.Fields {
			res.Fields = append(res.Fields, Field{Name: ff.Name, Type: ff.Type})
		}
		out = append(out, res)
	}
	return out, nil
}

// LoadFile is Load for a file path.
func LoadFile(path string) ([]*Resource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}
