package models

var departments = []struct {
	Name string
	Code string
}{
	{"general_medicine", "GM"},
	{"cardiology", "CARD"},
	{"pediatrics", "PED"},
	{"gynecology", "GYN"},
	{"orthopedics", "ORTH"},
	{"emergency", "EMER"},
	{"dental", "DENT"},
	{"dermatology", "DERM"},
	{"psychiatry", "PSY"},
}

// Departments lists the department names in fixed order.
func Departments() []string {
	names := make([]string, 0, len(departments))
	for _, d := range departments {
		names = append(names, d.Name)
	}
	return names
}

func ValidDepartment(name string) bool {
	_, ok := DepartmentCode(name)
	return ok
}

// DepartmentCode returns the short code used in token numbers.
func DepartmentCode(name string) (string, bool) {
	for _, d := range departments {
		if d.Name == name {
			return d.Code, true
		}
	}
	return "", false
}
