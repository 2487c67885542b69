package model

import "sort"

// ClassMap maps class values to human-readable names.
type ClassMap map[ClassID]string

// WorldCoverClasses are the ESA WorldCover 10m legend classes.
func WorldCoverClasses() ClassMap {
	return ClassMap{
		10:  "Tree cover",
		20:  "Shrubland",
		30:  "Grassland",
		40:  "Cropland",
		50:  "Built-up",
		60:  "Bare / sparse vegetation",
		70:  "Snow and ice",
		80:  "Permanent water bodies",
		90:  "Herbaceous wetland",
		95:  "Mangroves",
		100: "Moss and lichen",
	}
}

// IDs returns the class IDs sorted ascending.
func (m ClassMap) IDs() []ClassID {
	ids := make([]ClassID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Name returns the class name, or "" if the class is unknown.
func (m ClassMap) Name(id ClassID) string {
	return m[id]
}
