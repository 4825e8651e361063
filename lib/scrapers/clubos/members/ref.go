package members

import (
	"strings"

	"gymbot-backend/lib/textutil"
)

// Ref identifies a member by any combination of fields, when Id is set the
// other fields are not looked at.
type Ref struct {
	Id    string
	Name  string
	Email string
	Phone string
}

type NormalizedRef struct {
	Name  string
	Email string
	Phone string
}

func (r Ref) Normalized() NormalizedRef {
	return NormalizedRef{
		Name:  textutil.NormalizeName(r.Name),
		Email: textutil.NormalizeEmail(r.Email),
		Phone: textutil.NormalizePhone(r.Phone),
	}
}

func (r Ref) IsZero() bool {
	return strings.TrimSpace(r.Id) == "" &&
		strings.TrimSpace(r.Name) == "" &&
		strings.TrimSpace(r.Email) == "" &&
		strings.TrimSpace(r.Phone) == ""
}

// Keyword is the search term sent to ClubOS: name, else email, else phone.
func (r Ref) Keyword() string {
	for _, field := range []string{r.Name, r.Email, r.Phone} {
		field = strings.TrimSpace(field)
		if field != "" {
			return field
		}
	}
	return ""
}

func (r Ref) String() string {
	if r.Id != "" {
		return r.Id
	}
	return r.Keyword()
}
