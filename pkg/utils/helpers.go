package utils

import (
	"fmt"
	"image/color"
	"io/ioutil"
	"strconv"
	"strings"
)

//InSlice returns true if given string appears in given slice
func InSlice(lookingFor string, slice []string) bool {
	for _, s := range slice {
		if s == lookingFor {
			return true
		}
	}

	return false
}

//ListDir returns a list of files/ directories in given path
func ListDir(path string) ([]string, error) {
	names := make([]string, 0)
	if files, err := ioutil.ReadDir(path); err != nil {
		return nil, fmt.Errorf("ListDir: Error, got '%v'", err)
	} else {
		for _, f := range files {
			names = append(names, f.Name())
		}
	}

	return names, nil
}

//ParseColor parses an "R,G,B" string (each component 0-255) into an opaque color
func ParseColor(s string) (color.RGBA, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return color.RGBA{}, fmt.Errorf("ParseColor: expected 'R,G,B', got '%s'", s)
	}

	var rgb [3]uint8
	for i, p := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 8)
		if err != nil {
			return color.RGBA{}, fmt.Errorf("ParseColor: invalid component '%s' in '%s'", p, s)
		}
		rgb[i] = uint8(v)
	}

	return color.RGBA{R: rgb[0], G: rgb[1], B: rgb[2], A: 255}, nil
}
