package sim

import (
	"strconv"
	"strings"
)

// A Named object is an object that has a name.
type Named interface {
	// Name returns the name of the object.
	Name() string
}

// NameMustBeValid panics if the name does not follow the naming convention.
// A valid name is a series of dot-separated elements. Each element starts
// with a capital letter, and may carry square-bracket indices, as in
// "UART.RxBuffer[0]".
func NameMustBeValid(name string) {
	if name == "" {
		panic("name must not be empty")
	}

	for _, elem := range strings.Split(name, ".") {
		if err := nameElementValid(elem); err != "" {
			panic("Name " + name + " is not valid: " + err)
		}
	}
}

func nameElementValid(elem string) string {
	if elem == "" {
		return "name element must not be empty"
	}

	if elem[0] < 'A' || elem[0] > 'Z' {
		return "name element must start with a capital letter"
	}

	if strings.ContainsAny(elem, "_\"'- ") {
		return "name element contains an invalid character"
	}

	base, indices, found := strings.Cut(elem, "[")
	if !found {
		if strings.Contains(base, "]") {
			return "name bracket must match"
		}

		return ""
	}

	for _, index := range strings.Split("["+indices, "[")[1:] {
		if !strings.HasSuffix(index, "]") {
			return "name bracket must match"
		}

		if _, err := strconv.Atoi(strings.TrimSuffix(index, "]")); err != nil {
			return "name index must be integer"
		}
	}

	return ""
}

// BuildName builds a name from a parent name and an element name.
func BuildName(parentName, elementName string) string {
	if parentName == "" {
		return elementName
	}

	return parentName + "." + elementName
}

// BuildNameWithIndex builds a name from a parent name, an element name and an
// index.
func BuildNameWithIndex(parentName, elementName string, index int) string {
	return BuildName(parentName, elementName+"["+strconv.Itoa(index)+"]")
}
