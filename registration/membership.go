package registration

import "github.com/epochreg/regbot/shared"

// Partition splits identities into those already registered on the subnet and the rest.
// Both results keep the input order.
func Partition(identities []shared.Identity, snapshot map[string]struct{}) (members, nonMembers []shared.Identity) {
	for _, id := range identities {
		if _, ok := snapshot[id.Address]; ok {
			members = append(members, id)
		} else {
			nonMembers = append(nonMembers, id)
		}
	}
	return members, nonMembers
}
