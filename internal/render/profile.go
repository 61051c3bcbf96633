package render

import (
	"fmt"
	"strings"

	"modelprov/pkg/types"
)

// Modelfile renders a derived profile as FROM plus ordered PARAMETER lines.
func Modelfile(p types.DerivedProfile) ([]byte, error) {
	if err := firstError(
		checkPattern(profileSyntax, "model", p.Base, modelPattern),
		checkPattern(profileSyntax, "profile", p.Name, profilePattern),
	); err != nil {
		return nil, err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "FROM %s\n", p.Base)
	for _, o := range p.Overrides {
		if err := firstError(
			profileSyntax.check("parameter "+o.Key, o.Key),
			profileSyntax.check("parameter "+o.Key, o.Value),
		); err != nil {
			return nil, err
		}
		fmt.Fprintf(&b, "PARAMETER %s %s\n", o.Key, o.Value)
	}
	return []byte(b.String()), nil
}

func sysctlConf(pages int) []byte {
	return []byte(fmt.Sprintf("vm.nr_hugepages = %d\n", pages))
}
