package plugins

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"basil/pkg/bus"
	"basil/pkg/config"
	"basil/pkg/plugin"

	"github.com/samber/lo"
)

const defaultJenkinsTimeout = 10 * time.Second

// jenkinsClient reads the Jenkins JSON API.
type jenkinsClient struct {
	base     string
	username string
	token    string
	http     *http.Client
}

type jenkinsStatus struct {
	Jobs []jenkinsJobRef `json:"jobs"`
}

type jenkinsJobRef struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

type jenkinsJob struct {
	Name               string            `json:"name"`
	Color              string            `json:"color"`
	Builds             []jenkinsBuildRef `json:"builds"`
	HealthReport       []jenkinsHealth   `json:"healthReport"`
	LastCompletedBuild *jenkinsBuildRef  `json:"lastCompletedBuild"`
}

type jenkinsBuildRef struct {
	Number int `json:"number"`
}

type jenkinsHealth struct {
	Description string `json:"description"`
}

type jenkinsBuild struct {
	Number    int              `json:"number"`
	Building  bool             `json:"building"`
	Result    string           `json:"result"`
	Actions   []map[string]any `json:"actions"`
	Culprits  []jenkinsUser    `json:"culprits"`
	ChangeSet jenkinsChangeSet `json:"changeSet"`
}

type jenkinsUser struct {
	FullName string `json:"fullName"`
}

type jenkinsChangeSet struct {
	Items []jenkinsChange `json:"items"`
}

type jenkinsChange struct {
	User   string      `json:"user"`
	Author jenkinsUser `json:"author"`
}

func newJenkinsClient(cfg config.JenkinsConfig, httpClient *http.Client) *jenkinsClient {
	scheme := strings.TrimSpace(cfg.Scheme)
	if scheme == "" {
		scheme = "http"
	}

	timeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultJenkinsTimeout
	}

	client := &http.Client{Timeout: timeout}
	if httpClient != nil {
		copied := *httpClient
		client = &copied
	}
	// Build triggers answer with a redirect that must be seen, not followed.
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	token := ""
	if env := strings.TrimSpace(cfg.TokenEnv); env != "" {
		token = strings.TrimSpace(os.Getenv(env))
	}

	return &jenkinsClient{
		base:     scheme + "://" + strings.TrimSuffix(strings.TrimSpace(cfg.Host), "/"),
		username: strings.TrimSpace(cfg.Username),
		token:    token,
		http:     client,
	}
}

func (c *jenkinsClient) jobPath(name string) string {
	return "/job/" + url.PathEscape(name) + "/"
}

func (c *jenkinsClient) buildURL(name string, number int) string {
	return c.base + c.jobPath(name) + strconv.Itoa(number) + "/"
}

func (c *jenkinsClient) Status(ctx context.Context) (jenkinsStatus, error) {
	var status jenkinsStatus
	err := c.getJSON(ctx, "/", &status)
	return status, err
}

func (c *jenkinsClient) Job(ctx context.Context, name string) (jenkinsJob, error) {
	var job jenkinsJob
	err := c.getJSON(ctx, c.jobPath(name), &job)
	if job.Name == "" {
		job.Name = name
	}
	return job, err
}

func (c *jenkinsClient) Build(ctx context.Context, name string, number int) (jenkinsBuild, error) {
	var build jenkinsBuild
	err := c.getJSON(ctx, c.jobPath(name)+strconv.Itoa(number)+"/", &build)
	return build, err
}

// TriggerBuild asks Jenkins to queue a build of name and describes the outcome.
func (c *jenkinsClient) TriggerBuild(ctx context.Context, name string) (string, error) {
	req, err := c.newRequest(ctx, http.MethodPost, c.jobPath(name)+"build")
	if err != nil {
		return "", err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("trigger build %s: %w", name, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusFound, http.StatusCreated:
		return "Build started", nil
	default:
		return fmt.Sprintf("Could not start build (%d)", resp.StatusCode), nil
	}
}

func (c *jenkinsClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path+"api/json")
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("jenkins GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jenkins GET %s: unexpected status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode jenkins %s: %w", path, err)
	}

	return nil
}

func (c *jenkinsClient) newRequest(ctx context.Context, method, path string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build jenkins request: %w", err)
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.token)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// colorStatus maps a Jenkins ball color to the status-list wording.
func colorStatus(color string) string {
	switch {
	case strings.Contains(color, "blue"):
		return "is green"
	case strings.Contains(color, "red"):
		return "is FAILING"
	case strings.Contains(color, "aborted"):
		return "aborted"
	case strings.Contains(color, "disabled"):
		return "disabled"
	default:
		return "status unknown"
	}
}

func (j jenkinsJob) passing() bool {
	return strings.Contains(j.Color, "blue")
}

func (j jenkinsJob) status() string {
	switch {
	case j.passing():
		return "build is green!"
	case strings.Contains(j.Color, "red"):
		return "last build failed."
	case strings.Contains(j.Color, "aborted"):
		return "last build aborted"
	case strings.Contains(j.Color, "disabled"):
		return "currently disabled"
	default:
		return "current status unknown"
	}
}

func (j jenkinsJob) healthReport() string {
	return strings.Join(lo.Map(j.HealthReport, func(h jenkinsHealth, _ int) string {
		return h.Description
	}), "\n")
}

// lastCompleted prefers Jenkins' own lastCompletedBuild and falls back to the
// newest listed build.
func (j jenkinsJob) lastCompleted() (int, bool) {
	if j.LastCompletedBuild != nil {
		return j.LastCompletedBuild.Number, true
	}
	if len(j.Builds) > 0 {
		return j.Builds[0].Number, true
	}
	return 0, false
}

func (b jenkinsBuild) culprits() string {
	names := make([]string, 0, len(b.Culprits))
	for _, c := range b.Culprits {
		names = append(names, c.FullName)
	}
	if len(names) == 0 {
		return "nobody"
	}
	return strings.Join(names, ", ")
}

func (b jenkinsBuild) committers() string {
	names := make([]string, 0, len(b.ChangeSet.Items))
	for _, item := range b.ChangeSet.Items {
		name := item.User
		if name == "" {
			name = item.Author.FullName
		}
		if name != "" {
			names = append(names, name)
		}
	}
	names = lo.Uniq(names)
	if len(names) == 0 {
		return "everyone"
	}
	return strings.Join(names, ", ")
}

// failCount reads the test report action's failCount, "?" when absent.
func (b jenkinsBuild) failCount() string {
	for _, action := range b.Actions {
		if v, ok := action["failCount"].(float64); ok {
			return strconv.Itoa(int(v))
		}
	}
	return "?"
}

// broadcastChat resolves the chat a job's notifications go to.
func broadcastChat(cfg config.JenkinsConfig, job string) string {
	if chat, ok := cfg.BroadcastChats[job]; ok && strings.TrimSpace(chat) != "" {
		return chat
	}
	return strings.TrimSpace(cfg.BroadcastChat)
}

func jenkinsPlugin(client *jenkinsClient, cfg config.JenkinsConfig) func(*plugin.Registry) error {
	return func(reg *plugin.Registry) error {
		reg.CheckEmail(plugin.SubjectMatches(plugin.Regex(`(?i)jenkins build is back to normal : (\w+) #(\d+)`)), func(ctx context.Context, ec plugin.ExecContext) (*bus.Reply, error) {
			name := ec.Group(1)
			number, _ := strconv.Atoi(ec.Group(2))

			build, err := client.Build(ctx, name, number)
			if err != nil {
				return nil, err
			}

			return nil, broadcast(ctx, ec.Message, cfg, name, trim(fmt.Sprintf(`
				(sun) %s is back to normal!
				Thanks go to %s (ninja)`, name, build.committers())))
		})

		reg.CheckEmail(plugin.SubjectMatches(plugin.Regex(`(?i)build failed in Jenkins: (\w+) #(\d+)`)), func(ctx context.Context, ec plugin.ExecContext) (*bus.Reply, error) {
			name := ec.Group(1)
			number, _ := strconv.Atoi(ec.Group(2))

			build, err := client.Build(ctx, name, number)
			if err != nil {
				return nil, err
			}

			return nil, broadcast(ctx, ec.Message, cfg, name, trim(fmt.Sprintf(`
				(rain) %s #%d failed!
				%s failure(s). Culprits identified as %s
				Please see %s for more details.`,
				name, number, build.failCount(), build.culprits(), client.buildURL(name, number))))
		})

		reg.RespondTo(plugin.Text("jenkins"), func(ctx context.Context, ec plugin.ExecContext) (*bus.Reply, error) {
			status, err := client.Status(ctx)
			if err != nil {
				return nil, err
			}
			if len(status.Jobs) == 0 {
				return say(ec.Message, "no jenkins jobs found"), nil
			}

			lines := make([]string, 0, len(status.Jobs))
			for _, job := range status.Jobs {
				lines = append(lines, "* "+job.Name+": build "+colorStatus(job.Color))
			}
			return say(ec.Message, strings.Join(lines, "\n")), nil
		}).Describe("display the status of all jenkins builds")

		reg.RespondTo(plugin.Regex(`^jenkins (\w+)`), func(ctx context.Context, ec plugin.ExecContext) (*bus.Reply, error) {
			job, err := client.Job(ctx, ec.Group(1))
			if err != nil {
				return nil, err
			}
			return say(ec.Message, strings.TrimSpace(job.Name+": "+job.status()+"\n"+job.healthReport())), nil
		}).Describe("retrieves info on a specific jenkins job")

		reg.RespondTo(plugin.Regex(`^who broke (.+?)\??$`), func(ctx context.Context, ec plugin.ExecContext) (*bus.Reply, error) {
			job, err := client.Job(ctx, ec.Group(1))
			if err != nil {
				return nil, err
			}
			if job.passing() {
				return say(ec.Message, job.Name+" is currently green!"), nil
			}

			number, ok := job.lastCompleted()
			if !ok {
				return say(ec.Message, job.Name+" has no completed builds."), nil
			}
			build, err := client.Build(ctx, job.Name, number)
			if err != nil {
				return nil, err
			}

			return say(ec.Message, trim(fmt.Sprintf(`
				The last completed build was %d.
				Culprits are %s.`, number, build.culprits()))), nil
		}).Describe("tells you the likely culprits for a broken build")

		reg.RespondTo(plugin.Regex(`^build (\w+)`), func(ctx context.Context, ec plugin.ExecContext) (*bus.Reply, error) {
			outcome, err := client.TriggerBuild(ctx, ec.Group(1))
			if err != nil {
				return nil, err
			}
			return say(ec.Message, outcome), nil
		}).Describe("triggers a build for the specified job")

		return nil
	}
}

// broadcast says text into the job's configured chat on the configured
// transport.
func broadcast(ctx context.Context, msg bus.Message, cfg config.JenkinsConfig, job, text string) error {
	chat := broadcastChat(cfg, job)
	if chat == "" {
		return errors.New("jenkins.broadcast_chat is not configured")
	}

	msg = msg.WithChat(chat)
	if channel := strings.TrimSpace(cfg.BroadcastChannel); channel != "" {
		msg.Channel = channel
	}

	return msg.Say(ctx, text)
}
