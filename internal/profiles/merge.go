package profiles

import "cardcore/pkg/domain"

// mergePrimary orders the account's profiles with exactly one primary first.
// The first multi-profile row (creation order) whose handle matches the
// primary candidate takes the primary slot; otherwise the candidate itself is
// prepended and no row is marked primary.
func mergePrimary(candidate domain.Profile, rows []domain.Profile) []domain.Profile {
	match := -1
	for i, row := range rows {
		if row.MatchesHandle(candidate.Handle) {
			match = i
			break
		}
	}
	out := make([]domain.Profile, 0, len(rows)+1)
	if match >= 0 {
		primary := rows[match]
		primary.IsPrimary = true
		out = append(out, primary)
	} else {
		candidate.IsPrimary = true
		out = append(out, candidate)
	}
	for i, row := range rows {
		if i == match {
			continue
		}
		row.IsPrimary = false
		out = append(out, row)
	}
	return out
}

// upsertProfile replaces the entry with the same id, keeping its position and
// primary flag, or appends p as a non-primary entry. Only a load decides
// which entry is primary.
func upsertProfile(list []domain.Profile, p domain.Profile) ([]domain.Profile, domain.Profile) {
	for i := range list {
		if list[i].ID == p.ID {
			p.IsPrimary = list[i].IsPrimary
			if p.CreatedAt.IsZero() {
				p.CreatedAt = list[i].CreatedAt
			}
			list[i] = p
			return list, p
		}
	}
	p.IsPrimary = false
	return append(list, p), p
}

// remergeEntry copies the editable fields of written into the entry with id,
// preserving identity, position and primary flag.
func remergeEntry(list []domain.Profile, id string, written domain.Profile) ([]domain.Profile, domain.Profile, bool) {
	for i := range list {
		if list[i].ID != id {
			continue
		}
		entry := list[i]
		entry.Handle = written.Handle
		entry.DisplayName = written.DisplayName
		entry.AvatarURL = written.AvatarURL
		entry.Bio = written.Bio
		list[i] = entry
		return list, entry, true
	}
	return list, domain.Profile{}, false
}

func removeProfile(list []domain.Profile, id string) []domain.Profile {
	out := list[:0]
	for _, p := range list {
		if p.ID != id {
			out = append(out, p)
		}
	}
	return out
}

func findByID(list []domain.Profile, id string) (domain.Profile, bool) {
	if id == "" {
		return domain.Profile{}, false
	}
	for _, p := range list {
		if p.ID == id {
			return p, true
		}
	}
	return domain.Profile{}, false
}

func findByHandle(list []domain.Profile, handle string) (domain.Profile, bool) {
	for _, p := range list {
		if p.MatchesHandle(handle) {
			return p, true
		}
	}
	return domain.Profile{}, false
}

func cloneProfiles(list []domain.Profile) []domain.Profile {
	if list == nil {
		return nil
	}
	out := make([]domain.Profile, len(list))
	copy(out, list)
	return out
}
