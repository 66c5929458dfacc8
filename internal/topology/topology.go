// Package topology declares the resources of the box, the permissions granted between them
// and the routing of their events.
package topology

import (
	"fmt"
	"time"

	"github.com/mdouchement/rekbox/internal/config"
	"github.com/mdouchement/rekbox/internal/notification"
	"github.com/mdouchement/rekbox/internal/policy"
	"github.com/mdouchement/rekbox/internal/xpath"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Function names.
const (
	DetectionFunction = "rekognitionFunction"
	FrontendFunction  = "serviceFunction"
)

// Role names.
const (
	DetectionWorkerRole = "detection-worker"
	FrontendRole        = "frontend-api"
	AuthenticatedRole   = "authenticated"
	SiteRole            = "site"
	SiteDeploymentRole  = "site-deployment"
)

// Destination kinds of a notification.
const (
	DestinationQueue    = "queue"
	DestinationFunction = "function"
)

type (
	// A Stack is the whole set of declared resources.
	Stack struct {
		Name          string         `yaml:"name"`
		Buckets       []Bucket       `yaml:"buckets"`
		Tables        []Table        `yaml:"tables"`
		Queues        []Queue        `yaml:"queues"`
		Functions     []Function     `yaml:"functions"`
		API           API            `yaml:"api"`
		UserPool      UserPool       `yaml:"user_pool"`
		Roles         []*policy.Role `yaml:"roles"`
		Notifications []Notification `yaml:"notifications"`
		Outputs       []Output       `yaml:"outputs"`
	}

	// A Bucket is a blob container.
	Bucket struct {
		Name          string `yaml:"name"`
		Website       bool   `yaml:"website,omitempty"`
		IndexDocument string `yaml:"index_document,omitempty"`
		ErrorDocument string `yaml:"error_document,omitempty"`
	}

	// A Table is the label table.
	Table struct {
		Name         string `yaml:"name"`
		PartitionKey string `yaml:"partition_key"`
		Backend      string `yaml:"backend"`
	}

	// A Queue is a message queue with its optional redrive policy.
	Queue struct {
		Name              string        `yaml:"name"`
		Backend           string        `yaml:"backend"`
		VisibilityTimeout time.Duration `yaml:"visibility_timeout,omitempty"`
		WaitTime          time.Duration `yaml:"wait_time,omitempty"`
		Retention         time.Duration `yaml:"retention"`
		DeadLetterQueue   string        `yaml:"dead_letter_queue,omitempty"`
		MaxReceiveCount   int           `yaml:"max_receive_count,omitempty"`
	}

	// A Function is a compute unit.
	Function struct {
		Name        string            `yaml:"name"`
		Role        string            `yaml:"role"`
		Timeout     time.Duration     `yaml:"timeout"`
		MemorySize  int               `yaml:"memory_size,omitempty"`
		Environment map[string]string `yaml:"environment"`
		EventSource string            `yaml:"event_source,omitempty"`
	}

	// An API is the routing layer in front of the front-end function.
	API struct {
		Name       string  `yaml:"name"`
		Authorizer string  `yaml:"authorizer"`
		CORS       CORS    `yaml:"cors"`
		Routes     []Route `yaml:"routes"`
	}

	// CORS is the preflight configuration of the API.
	CORS struct {
		AllowOrigins []string `yaml:"allow_origins"`
		AllowMethods []string `yaml:"allow_methods"`
	}

	// A Route binds a method and path to a function.
	Route struct {
		Method             string   `yaml:"method"`
		Path               string   `yaml:"path"`
		Function           string   `yaml:"function"`
		RequiredParameters []string `yaml:"required_parameters,omitempty"`
	}

	// A UserPool is the identity provider.
	UserPool struct {
		Provider       string `yaml:"provider"`
		Issuer         string `yaml:"issuer,omitempty"`
		ClientID       string `yaml:"client_id"`
		SelfSignUp     bool   `yaml:"self_sign_up"`
		AutoVerify     string `yaml:"auto_verify"`
		IdentityRole   string `yaml:"identity_role"`
		IdentityPoolID string `yaml:"identity_pool_id"`
	}

	// A Notification routes the object creation events of a bucket.
	Notification struct {
		Bucket      string `yaml:"bucket"`
		Prefix      string `yaml:"prefix"`
		Event       string `yaml:"event"`
		Destination string `yaml:"destination"`
		Kind        string `yaml:"kind"`
	}

	// An Output is a named value exported by the stack.
	Output struct {
		Name  string `yaml:"name"`
		Value string `yaml:"value"`
	}
)

// New declares the stack described by the configuration.
func New(c *config.Config) *Stack {
	s := &Stack{
		Name: c.StackName,
		Buckets: []Bucket{
			{Name: c.Bucket},
			{Name: c.ResizedBucket},
			{Name: c.WebsiteBucket, Website: true, IndexDocument: "index.html", ErrorDocument: "index.html"},
		},
		Tables: []Table{
			{Name: c.Table, PartitionKey: "image", Backend: c.LabelStore.Backend},
		},
	}

	env := map[string]string{
		"TABLE":         c.Table,
		"BUCKET":        c.Bucket,
		"RESIZEDBUCKET": c.ResizedBucket,
	}

	detection := Function{
		Name:        DetectionFunction,
		Role:        DetectionWorkerRole,
		Timeout:     c.Worker.Timeout,
		MemorySize:  1024,
		Environment: env,
	}

	notify := Notification{
		Bucket: c.Bucket,
		Prefix: xpath.PrivatePrefix,
		Event:  "ObjectCreated:*",
	}

	if c.Queue.Backend == "none" {
		notify.Destination = DetectionFunction
		notify.Kind = DestinationFunction
	} else {
		s.Queues = []Queue{
			{
				Name:      c.Queue.DeadLetterName,
				Backend:   c.Queue.Backend,
				Retention: c.Queue.Retention,
			},
			{
				Name:              c.Queue.Name,
				Backend:           c.Queue.Backend,
				VisibilityTimeout: c.Queue.VisibilityTimeout,
				WaitTime:          c.Queue.WaitTime,
				Retention:         c.Queue.Retention,
				DeadLetterQueue:   c.Queue.DeadLetterName,
				MaxReceiveCount:   c.Queue.MaxReceiveCount,
			},
		}
		detection.EventSource = c.Queue.Name
		notify.Destination = c.Queue.Name
		notify.Kind = DestinationQueue
	}

	s.Functions = []Function{
		detection,
		{
			Name:        FrontendFunction,
			Role:        FrontendRole,
			Timeout:     c.Worker.Timeout,
			Environment: env,
		},
	}
	s.Notifications = []Notification{notify}

	s.API = API{
		Name:       "imageAPi",
		Authorizer: "cognitoAuthorizer",
		CORS: CORS{
			AllowOrigins: []string{"*"},
			AllowMethods: []string{"*"},
		},
		Routes: []Route{
			{Method: "GET", Path: "/images", Function: FrontendFunction, RequiredParameters: []string{"action", "key"}},
			{Method: "DELETE", Path: "/images", Function: FrontendFunction, RequiredParameters: []string{"action", "key"}},
		},
	}

	s.UserPool = UserPool{
		Provider:       c.Auth.Provider,
		ClientID:       c.StackName + "-client",
		SelfSignUp:     true,
		AutoVerify:     "email",
		IdentityRole:   AuthenticatedRole,
		IdentityPoolID: c.StackName + "-identitypool",
	}
	if c.Auth.Provider == "oidc" {
		s.UserPool.Issuer = c.OIDC.Issuer
		s.UserPool.ClientID = c.OIDC.ClientID
	}

	s.Roles = []*policy.Role{
		policy.NewRole(DetectionWorkerRole,
			policy.GrantRead(c.Bucket),
			policy.GrantPut(c.ResizedBucket),
			policy.GrantWriteData(c.Table),
			policy.Allow([]policy.Action{policy.DetectLabels}, "*"),
		),
		policy.NewRole(FrontendRole,
			policy.GrantWrite(c.Bucket),
			policy.GrantWrite(c.ResizedBucket),
			policy.GrantReadWriteData(c.Table),
		),
		policy.NewRole(AuthenticatedRole,
			policy.GrantOwnerPrefix(xpath.PrivatePrefix, c.Bucket, c.ResizedBucket)...,
		),
		policy.NewRole(SiteRole,
			policy.Allow([]policy.Action{policy.GetObject}, policy.Object(c.WebsiteBucket, "*")),
		),
		policy.NewRole(SiteDeploymentRole,
			policy.GrantWrite(c.WebsiteBucket),
		),
	}

	s.Outputs = []Output{
		{Name: "imageBucket", Value: c.Bucket},
		{Name: "resizedBucket", Value: c.ResizedBucket},
		{Name: "ddbTable", Value: c.Table},
		{Name: "bucketURL", Value: "/site/"},
		{Name: "UserPoolId", Value: c.StackName + "-userpool"},
		{Name: "AppClientId", Value: s.UserPool.ClientID},
		{Name: "IdentityPoolId", Value: s.UserPool.IdentityPoolID},
	}

	return s
}

// Role returns the named role or panics when it is not declared.
func (s *Stack) Role(name string) *policy.Role {
	for _, role := range s.Roles {
		if role.Name == name {
			return role
		}
	}
	panic(fmt.Sprintf("topology: undeclared role %s", name))
}

// Output returns the value of the named output.
func (s *Stack) Output(name string) (string, bool) {
	for _, output := range s.Outputs {
		if output.Name == name {
			return output.Value, true
		}
	}
	return "", false
}

// Rules binds the declared notifications to their targets, indexed by destination name.
func (s *Stack) Rules(targets map[string]notification.Target) ([]notification.Rule, error) {
	rules := make([]notification.Rule, 0, len(s.Notifications))
	for _, n := range s.Notifications {
		target, ok := targets[n.Destination]
		if !ok {
			return nil, errors.Errorf("no target for %s %s", n.Kind, n.Destination)
		}

		rules = append(rules, notification.Rule{
			Bucket: n.Bucket,
			Prefix: n.Prefix,
			Target: target,
		})
	}
	return rules, nil
}

// Describe renders the stack as YAML.
func (s *Stack) Describe() ([]byte, error) {
	payload, err := yaml.Marshal(s)
	return payload, errors.Wrap(err, "could not render topology")
}
