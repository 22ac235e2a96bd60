package store

import (
	"github.com/pagewire/livesync/pkg/models"
)

func doc(id, title string, children ...*models.Document) *models.Document {
	d := &models.Document{ID: id, Title: title}
	if children != nil {
		d.Children = children
		for _, c := range children {
			parent := id
			c.ParentID = &parent
		}
	}
	return d
}

func ids(nodes []*models.Document) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.ID)
	}
	return out
}

func ptr[T any](v T) *T {
	return &v
}
