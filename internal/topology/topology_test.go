package topology

import (
	"context"
	"testing"

	"github.com/mdouchement/rekbox/internal/config"
	"github.com/mdouchement/rekbox/internal/notification"
	"github.com/mdouchement/rekbox/internal/policy"
	"github.com/mdouchement/rekbox/internal/xpath"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func defaults(t *testing.T) *config.Config {
	t.Setenv("QUEUE_BACKEND", "database")
	c, err := config.Load()
	require.NoError(t, err)
	return c
}

func TestNew_Grants(t *testing.T) {
	c := defaults(t)
	s := New(c)

	worker := s.Role(DetectionWorkerRole).Assume("")
	assert.NoError(t, worker.Authorize(policy.GetObject, policy.Object(c.Bucket, "private/42/cat.jpg")))
	assert.NoError(t, worker.Authorize(policy.PutObject, policy.Object(c.ResizedBucket, "private/42/cat.jpg")))
	assert.NoError(t, worker.Authorize(policy.PutItem, policy.Table(c.Table)))
	assert.NoError(t, worker.Authorize(policy.DetectLabels, "*"))
	assert.True(t, policy.IsAccessDenied(worker.Authorize(policy.PutObject, policy.Object(c.Bucket, "private/42/cat.jpg"))))
	assert.True(t, policy.IsAccessDenied(worker.Authorize(policy.GetItem, policy.Table(c.Table))))

	api := s.Role(FrontendRole).Assume("")
	assert.NoError(t, api.Authorize(policy.DeleteObject, policy.Object(c.Bucket, "private/42/cat.jpg")))
	assert.NoError(t, api.Authorize(policy.DeleteObject, policy.Object(c.ResizedBucket, "private/42/cat.jpg")))
	assert.NoError(t, api.Authorize(policy.Query, policy.Table(c.Table)))
	assert.True(t, policy.IsAccessDenied(api.Authorize(policy.DetectLabels, "*")))

	alice := s.Role(AuthenticatedRole).Assume("alice")
	assert.NoError(t, alice.Authorize(policy.GetObject, policy.Object(c.ResizedBucket, "private/alice/cat.jpg")))
	assert.NoError(t, alice.AuthorizeList(c.Bucket, "private/alice/"))
	assert.True(t, policy.IsAccessDenied(alice.Authorize(policy.GetObject, policy.Object(c.ResizedBucket, "private/bob/cat.jpg"))))
	assert.True(t, policy.IsAccessDenied(alice.AuthorizeList(c.Bucket, "private/")))

	site := s.Role(SiteRole).Assume("")
	assert.NoError(t, site.Authorize(policy.GetObject, policy.Object(c.WebsiteBucket, "index.html")))
	assert.True(t, policy.IsAccessDenied(site.Authorize(policy.GetObject, policy.Object(c.Bucket, "index.html"))))

	assert.Panics(t, func() { s.Role("unknown") })
}

func TestNew_Queue(t *testing.T) {
	c := defaults(t)
	s := New(c)

	require.Len(t, s.Queues, 2)
	primary := s.Queues[1]
	assert.Equal(t, "ImageQueue", primary.Name)
	assert.Equal(t, "ImageDLQueue", primary.DeadLetterQueue)
	assert.Equal(t, 2, primary.MaxReceiveCount)

	require.Len(t, s.Notifications, 1)
	assert.Equal(t, Notification{
		Bucket:      c.Bucket,
		Prefix:      "private/",
		Event:       "ObjectCreated:*",
		Destination: "ImageQueue",
		Kind:        DestinationQueue,
	}, s.Notifications[0])

	assert.Equal(t, "ImageQueue", s.Functions[0].EventSource)
	assert.Equal(t, map[string]string{
		"TABLE":         "ImageLabels",
		"BUCKET":        "cdk-rek-imagebucket",
		"RESIZEDBUCKET": "cdk-rek-imagebucket-resized",
	}, s.Functions[0].Environment)
}

func TestNew_DirectInvocation(t *testing.T) {
	c := defaults(t)
	c.Queue.Backend = "none"
	s := New(c)

	assert.Empty(t, s.Queues)
	assert.Equal(t, DetectionFunction, s.Notifications[0].Destination)
	assert.Equal(t, DestinationFunction, s.Notifications[0].Kind)
	assert.Empty(t, s.Functions[0].EventSource)
}

type target string

func (t target) Name() string                                      { return string(t) }
func (t target) Deliver(context.Context, notification.Event) error { return nil }

func TestStack_Rules(t *testing.T) {
	s := New(defaults(t))

	_, err := s.Rules(map[string]notification.Target{})
	assert.Error(t, err)

	rules, err := s.Rules(map[string]notification.Target{"ImageQueue": target("queue")})
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "cdk-rek-imagebucket", rules[0].Bucket)
	assert.Equal(t, xpath.PrivatePrefix, rules[0].Prefix)
	assert.Equal(t, "queue", rules[0].Target.Name())
}

func TestStack_Describe(t *testing.T) {
	s := New(defaults(t))

	payload, err := s.Describe()
	require.NoError(t, err)

	var v struct {
		Name    string   `yaml:"name"`
		Outputs []Output `yaml:"outputs"`
		Roles   []struct {
			Name string `yaml:"name"`
		} `yaml:"roles"`
	}
	require.NoError(t, yaml.Unmarshal(payload, &v))

	assert.Equal(t, "rekbox", v.Name)
	assert.Len(t, v.Roles, 5)

	names := []string{}
	for _, o := range v.Outputs {
		names = append(names, o.Name)
	}
	assert.Equal(t, []string{"imageBucket", "resizedBucket", "ddbTable", "bucketURL", "UserPoolId", "AppClientId", "IdentityPoolId"}, names)

	value, ok := s.Output("ddbTable")
	assert.True(t, ok)
	assert.Equal(t, "ImageLabels", value)
}
