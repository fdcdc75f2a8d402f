package migration

import (
	"errors"
)

// Validate cross-checks what was applied against what is declared and against
// the live schema. Every applied upgrade script must still be declared with an
// identical checksum, and when anything has been applied the recorded schema
// checksums of the latest script must match the live ones.
//
// All findings are returned joined; each matches ErrDrift.
func Validate(declared, applied *Manifest, recorded *SchemaChecksums, live SchemaChecksums) error {
	var issues []error

	for _, script := range applied.Upgrades() {
		key := script.Key()
		match := declared.Script(key, KindUpgrade)
		if match == nil {
			issues = append(issues, &ScriptDrift{
				Key:      key,
				FileName: script.FileName,
				Expected: script.Checksum,
			})
			continue
		}
		if match.Checksum != script.Checksum {
			issues = append(issues, &ScriptDrift{
				Key:      key,
				FileName: script.FileName,
				Expected: script.Checksum,
				Actual:   match.Checksum,
			})
		}
	}

	if recorded != nil {
		for _, category := range SchemaCategories {
			expected, actual := recorded.Get(category), live.Get(category)
			if expected != actual {
				issues = append(issues, &SchemaDrift{Category: category, Expected: expected, Actual: actual})
			}
		}
	}

	return errors.Join(issues...)
}
