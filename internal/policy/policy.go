// Package policy evaluates the permission grants between principals and resources.
//
// A Role holds allow statements. Resources are addressed as:
//
//	bucket/<bucket>          the bucket itself (ListBucket)
//	bucket/<bucket>/<key>    an object
//	table/<table>            the label table
//	*                        anything
//
// A pattern ending with `*` matches by prefix. The `${sub}` variable is replaced
// by the subject of the principal; a statement using it never matches an anonymous principal.
package policy

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// An Action is an operation on a resource.
type Action string

// Supported actions.
const (
	GetObject    Action = "s3:GetObject"
	PutObject    Action = "s3:PutObject"
	DeleteObject Action = "s3:DeleteObject"
	ListBucket   Action = "s3:ListBucket"
	GetItem      Action = "dynamodb:GetItem"
	PutItem      Action = "dynamodb:PutItem"
	DeleteItem   Action = "dynamodb:DeleteItem"
	Query        Action = "dynamodb:Query"
	DetectLabels Action = "rekognition:DetectLabels"
)

// SubjectVariable is substituted by the principal's subject.
const SubjectVariable = "${sub}"

// ErrAccessDenied is returned when no statement allows a request.
var ErrAccessDenied = errors.New("AccessDenied")

type (
	// A Statement allows actions on resources.
	Statement struct {
		Actions   []Action `yaml:"actions"`
		Resources []string `yaml:"resources"`
		// Prefixes restricts ListBucket to the prefixes matching one of the patterns.
		Prefixes []string `yaml:"prefixes,omitempty"`
	}

	// A Role is a named set of statements.
	Role struct {
		Name       string      `yaml:"name"`
		Statements []Statement `yaml:"statements"`
	}

	// A Principal is a role assumed by a compute unit or an identity.
	Principal struct {
		Role    *Role
		Subject string
	}
)

// Bucket returns the resource name of a bucket.
func Bucket(bucket string) string {
	return "bucket/" + bucket
}

// Object returns the resource name of an object.
func Object(bucket, key string) string {
	return "bucket/" + bucket + "/" + key
}

// Table returns the resource name of a table.
func Table(table string) string {
	return "table/" + table
}

// NewRole returns a new role.
func NewRole(name string, statements ...Statement) *Role {
	return &Role{
		Name:       name,
		Statements: statements,
	}
}

// Add appends statements to the role.
func (r *Role) Add(statements ...Statement) *Role {
	r.Statements = append(r.Statements, statements...)
	return r
}

// Assume returns a principal for the given subject.
func (r *Role) Assume(subject string) Principal {
	return Principal{
		Role:    r,
		Subject: subject,
	}
}

// Authorize checks that the principal is allowed to perform action on resource.
func (p Principal) Authorize(action Action, resource string) error {
	return p.authorize(action, resource, "", false)
}

// AuthorizeList checks that the principal is allowed to list bucket under prefix.
func (p Principal) AuthorizeList(bucket, prefix string) error {
	return p.authorize(ListBucket, Bucket(bucket), prefix, true)
}

func (p Principal) authorize(action Action, resource, prefix string, list bool) error {
	if p.Role != nil {
		for _, statement := range p.Role.Statements {
			if statement.allows(p.Subject, action, resource, prefix, list) {
				return nil
			}
		}
	}

	name := "anonymous"
	if p.Role != nil {
		name = p.Role.Name
	}
	return errors.Wrap(ErrAccessDenied, fmt.Sprintf("%s is not authorized to perform %s on %s", name, action, resource))
}

func (s Statement) allows(subject string, action Action, resource, prefix string, list bool) bool {
	if !s.hasAction(action) {
		return false
	}

	if !matchAny(s.Resources, subject, resource) {
		return false
	}

	if list && len(s.Prefixes) > 0 {
		return matchAny(s.Prefixes, subject, prefix)
	}
	return true
}

func (s Statement) hasAction(action Action) bool {
	for _, a := range s.Actions {
		if a == action || a == "*" {
			return true
		}
		if strings.HasSuffix(string(a), "*") && strings.HasPrefix(string(action), strings.TrimSuffix(string(a), "*")) {
			return true
		}
	}
	return false
}

func matchAny(patterns []string, subject, value string) bool {
	for _, pattern := range patterns {
		if match(pattern, subject, value) {
			return true
		}
	}
	return false
}

func match(pattern, subject, value string) bool {
	if strings.Contains(pattern, SubjectVariable) {
		if subject == "" || strings.ContainsAny(subject, "/*") {
			return false
		}
		pattern = strings.ReplaceAll(pattern, SubjectVariable, subject)
	}

	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(value, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == value
}

// IsAccessDenied returns true if err is an access denied error.
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}
