package scanner

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"

	"github.com/hakim/readyscan/internal/models"
	"github.com/hakim/readyscan/internal/source"
	"gopkg.in/yaml.v3"
)

type lineRule struct {
	typ      string
	re       *regexp.Regexp
	severity models.Severity
	message  string
	rec      string
}

var terraformRules = []lineRule{
	{"hardcoded_credentials", regexp.MustCompile(`(?i)^\s*(access_key|secret_key|password|token|client_secret)\s*=\s*"[^"$]{4,}"`),
		models.SeverityCritical, "Hardcoded credentials in Terraform", "Use variables backed by a secrets manager or environment"},
	{"public_s3_bucket", regexp.MustCompile(`acl\s*=\s*"public-read(-write)?"`),
		models.SeverityHigh, "S3 bucket is publicly readable", "Set the bucket ACL to private and enable block public access"},
	{"unencrypted_storage", regexp.MustCompile(`(?i)\b(encrypted|storage_encrypted|encrypt_at_rest)\s*=\s*false`),
		models.SeverityHigh, "Storage encryption is disabled", "Enable encryption at rest with a managed KMS key"},
	{"open_security_group", regexp.MustCompile(`cidr_blocks\s*=\s*\[[^\]]*"0\.0\.0\.0/0"`),
		models.SeverityHigh, "Security group allows traffic from 0.0.0.0/0", "Restrict ingress to known CIDR ranges"},
}

var (
	dockerFrom      = regexp.MustCompile(`(?i)^\s*FROM\s+(--platform=\S+\s+)?(\S+)(\s+AS\s+(\S+))?`)
	dockerUser      = regexp.MustCompile(`(?i)^\s*USER\s+(\S+)`)
	dockerSecretEnv = regexp.MustCompile(`(?i)^\s*(ENV|ARG)\s+\S*(PASSWORD|SECRET|TOKEN|API_KEY|ACCESS_KEY)\S*\s*[= ]\s*\S+`)
	secretKey       = regexp.MustCompile(`(?i)(PASSWORD|SECRET|TOKEN|API_KEY|ACCESS_KEY)`)
)

// IaCScanner checks Terraform, Dockerfiles, docker-compose files and
// Kubernetes manifests for insecure configuration.
type IaCScanner struct{}

func NewIaCScanner() *IaCScanner { return &IaCScanner{} }

func (s *IaCScanner) Kind() models.ScannerKind { return models.KindIaC }
func (s *IaCScanner) Name() string             { return "iac" }
func (s *IaCScanner) Version() string          { return "1.2.1" }

func (s *IaCScanner) Scan(f source.File) ([]models.Finding, error) {
	name := baseName(f.Path)
	ext := path.Ext(name)
	switch {
	case ext == ".tf":
		return scanTerraform(f), nil
	case name == "dockerfile" || strings.HasPrefix(name, "dockerfile.") || ext == ".dockerfile":
		return scanDockerfile(f), nil
	case isCompose(name):
		return scanCompose(f)
	case ext == ".yaml" || ext == ".yml":
		if bytes.Contains(f.Content, []byte("apiVersion:")) && bytes.Contains(f.Content, []byte("kind:")) {
			return scanKubernetes(f)
		}
	}
	return nil, nil
}

func isCompose(name string) bool {
	ext := path.Ext(name)
	if ext != ".yml" && ext != ".yaml" {
		return false
	}
	return strings.HasPrefix(name, "docker-compose") || strings.HasPrefix(name, "compose.")
}

type iacBuilder struct {
	file  source.File
	lines []string
	out   []models.Finding
}

func (b *iacBuilder) add(framework, resource, typ string, sev models.Severity, line int, msg, rec string) {
	finding, err := models.NewFinding(models.Finding{
		Type:           typ,
		Severity:       sev,
		FilePath:       b.file.Path,
		Line:           line,
		Message:        msg,
		Recommendation: rec,
		Snippet:        snippet(b.lines, line),
	}, &models.IaCDetail{Framework: framework, Resource: resource})
	if err == nil {
		b.out = append(b.out, finding)
	}
}

func scanTerraform(f source.File) []models.Finding {
	b := &iacBuilder{file: f, lines: lines(f.Content)}
	resource := ""
	for i, line := range b.lines {
		if strings.HasPrefix(strings.TrimSpace(line), "resource ") {
			if fields := strings.Fields(strings.ReplaceAll(line, `"`, "")); len(fields) >= 3 {
				resource = fields[1] + "." + fields[2]
			}
		}
		for _, r := range terraformRules {
			if r.re.MatchString(line) {
				b.add("terraform", resource, r.typ, r.severity, i+1, r.message, r.rec)
			}
		}
	}
	return b.out
}

func scanDockerfile(f source.File) []models.Finding {
	b := &iacBuilder{file: f, lines: lines(f.Content)}
	stages := map[string]bool{}
	lastUser, lastUserLine, lastFrom := "", 0, 0

	for i, line := range b.lines {
		n := i + 1
		if m := dockerFrom.FindStringSubmatch(line); m != nil {
			image := m[2]
			lastFrom = n
			lastUser, lastUserLine = "", 0
			if m[4] != "" {
				stages[strings.ToLower(m[4])] = true
			}
			if !stages[strings.ToLower(image)] && image != "scratch" && imageUnpinned(image) {
				b.add("docker", image, "latest_tag", models.SeverityMedium, n,
					fmt.Sprintf("Base image %s uses the latest tag or no tag", image),
					"Pin base images to a specific version or digest")
			}
			continue
		}
		if m := dockerUser.FindStringSubmatch(line); m != nil {
			lastUser, lastUserLine = strings.ToLower(m[1]), n
			continue
		}
		if dockerSecretEnv.MatchString(line) {
			b.add("docker", "", "secret_in_dockerfile", models.SeverityHigh, n,
				"Secret value baked into the image through ENV or ARG",
				"Pass secrets at runtime or use BuildKit secret mounts")
		}
	}

	if lastFrom == 0 {
		return b.out
	}
	switch {
	case lastUser == "root" || lastUser == "0" || strings.HasPrefix(lastUser, "0:") || strings.HasPrefix(lastUser, "root:"):
		b.add("docker", "", "running_as_root", models.SeverityHigh, lastUserLine,
			"Container is configured to run as root", "Switch to an unprivileged USER before the entrypoint")
	case lastUser == "":
		b.add("docker", "", "no_user_directive", models.SeverityHigh, lastFrom,
			"Final image stage has no USER directive and runs as root",
			"Add a USER directive with a non-root account")
	}
	return b.out
}

func imageUnpinned(image string) bool {
	if strings.Contains(image, "@sha256:") {
		return false
	}
	lastSlash := strings.LastIndex(image, "/")
	colon := strings.LastIndex(image, ":")
	if colon <= lastSlash {
		return true
	}
	return strings.EqualFold(image[colon+1:], "latest")
}

func scanCompose(f source.File) ([]models.Finding, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(f.Content, &doc); err != nil {
		return nil, fmt.Errorf("parsing compose file: %w", err)
	}
	b := &iacBuilder{file: f, lines: lines(f.Content)}
	root := documentRoot(&doc)
	services := mapValue(root, "services")
	if services == nil || services.Kind != yaml.MappingNode {
		return nil, nil
	}

	for i := 0; i+1 < len(services.Content); i += 2 {
		name := services.Content[i].Value
		svc := services.Content[i+1]

		if n := mapValue(svc, "privileged"); isTrue(n) {
			b.add("compose", name, "privileged_container", models.SeverityCritical, n.Line,
				fmt.Sprintf("Service %s runs in privileged mode", name),
				"Remove privileged mode and grant only the capabilities required")
		}
		if n := mapValue(svc, "ports"); n != nil && n.Kind == yaml.SequenceNode && len(n.Content) > 0 {
			for _, p := range n.Content {
				b.add("compose", name, "exposed_ports", models.SeverityMedium, p.Line,
					fmt.Sprintf("Service %s publishes port %s on the host", name, p.Value),
					"Publish only required ports and bind them to localhost where possible")
			}
		}
		if n := mapValue(svc, "user"); n != nil && (n.Value == "root" || n.Value == "0") {
			b.add("compose", name, "running_as_root", models.SeverityHigh, n.Line,
				fmt.Sprintf("Service %s runs as root", name), "Run the service as an unprivileged user")
		}
		if n := mapValue(svc, "image"); n != nil && imageUnpinned(n.Value) {
			b.add("compose", name, "latest_tag", models.SeverityMedium, n.Line,
				fmt.Sprintf("Service %s image %s uses the latest tag or no tag", name, n.Value),
				"Pin images to a specific version or digest")
		}
		for _, env := range envEntries(mapValue(svc, "environment")) {
			b.add("compose", name, "hardcoded_credentials", models.SeverityCritical, env.Line,
				fmt.Sprintf("Service %s sets a credential in plain text", name),
				"Reference secrets from an env file excluded from version control or use compose secrets")
		}
	}
	return b.out, nil
}

// envEntries returns environment entries that assign a literal value to a
// credential-like key, for both list and map syntax.
func envEntries(env *yaml.Node) []*yaml.Node {
	if env == nil {
		return nil
	}
	var out []*yaml.Node
	switch env.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(env.Content); i += 2 {
			k, v := env.Content[i], env.Content[i+1]
			if secretKey.MatchString(k.Value) && literalValue(v.Value) {
				out = append(out, k)
			}
		}
	case yaml.SequenceNode:
		for _, item := range env.Content {
			k, v, ok := strings.Cut(item.Value, "=")
			if ok && secretKey.MatchString(k) && literalValue(v) {
				out = append(out, item)
			}
		}
	}
	return out
}

func literalValue(v string) bool {
	return v != "" && !strings.HasPrefix(v, "${") && !strings.HasPrefix(v, "$")
}

func scanKubernetes(f source.File) ([]models.Finding, error) {
	b := &iacBuilder{file: f, lines: lines(f.Content)}
	dec := yaml.NewDecoder(bytes.NewReader(f.Content))
	for {
		var doc yaml.Node
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parsing kubernetes manifest: %w", err)
		}
		root := documentRoot(&doc)
		kind := scalar(mapValue(root, "kind"))
		if kind == "" {
			continue
		}
		name := scalar(mapValue(mapValue(root, "metadata"), "name"))
		resource := kind + "/" + name

		podSpec := mapValue(root, "spec")
		if tmpl := mapValue(podSpec, "template"); tmpl != nil {
			podSpec = mapValue(tmpl, "spec")
		}
		if jobTmpl := mapValue(podSpec, "jobTemplate"); jobTmpl != nil {
			podSpec = mapValue(mapValue(mapValue(jobTmpl, "spec"), "template"), "spec")
		}
		if podSpec == nil {
			continue
		}

		if n := mapValue(podSpec, "hostNetwork"); isTrue(n) {
			b.add("kubernetes", resource, "host_network", models.SeverityHigh, n.Line,
				fmt.Sprintf("%s shares the host network namespace", resource),
				"Disable hostNetwork unless the workload is a node-level agent")
		}
		podSec := mapValue(podSpec, "securityContext")

		for _, key := range []string{"initContainers", "containers"} {
			list := mapValue(podSpec, key)
			if list == nil || list.Kind != yaml.SequenceNode {
				continue
			}
			for _, c := range list.Content {
				checkContainer(b, resource, c, podSec)
			}
		}
	}
	return b.out, nil
}

func checkContainer(b *iacBuilder, resource string, c, podSec *yaml.Node) {
	cname := scalar(mapValue(c, "name"))
	where := resource + "/" + cname
	sec := mapValue(c, "securityContext")

	if n := mapValue(sec, "privileged"); isTrue(n) {
		b.add("kubernetes", where, "privileged_container", models.SeverityCritical, n.Line,
			fmt.Sprintf("Container %s runs privileged", cname),
			"Remove privileged: true and grant specific capabilities instead")
	}

	runAs := mapValue(sec, "runAsUser")
	if runAs == nil {
		runAs = mapValue(podSec, "runAsUser")
	}
	nonRoot := mapValue(sec, "runAsNonRoot")
	if nonRoot == nil {
		nonRoot = mapValue(podSec, "runAsNonRoot")
	}
	switch {
	case runAs != nil && runAs.Value == "0":
		b.add("kubernetes", where, "running_as_root", models.SeverityHigh, runAs.Line,
			fmt.Sprintf("Container %s runs as UID 0", cname), "Set runAsUser to a non-zero UID and runAsNonRoot: true")
	case nonRoot != nil && nonRoot.Value == "false":
		b.add("kubernetes", where, "running_as_root", models.SeverityHigh, nonRoot.Line,
			fmt.Sprintf("Container %s allows running as root", cname), "Set runAsNonRoot: true")
	}

	if img := mapValue(c, "image"); img != nil && imageUnpinned(img.Value) {
		b.add("kubernetes", where, "latest_tag", models.SeverityMedium, img.Line,
			fmt.Sprintf("Container %s image %s uses the latest tag or no tag", cname, img.Value),
			"Pin images to a specific version or digest")
	}

	if mapValue(mapValue(c, "resources"), "limits") == nil {
		b.add("kubernetes", where, "missing_resource_limits", models.SeverityLow, c.Line,
			fmt.Sprintf("Container %s has no resource limits", cname),
			"Set CPU and memory limits so one workload cannot starve the node")
	}
}

func documentRoot(doc *yaml.Node) *yaml.Node {
	if doc != nil && doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		return doc.Content[0]
	}
	return doc
}

// mapValue returns the value node for key in a mapping node, or nil.
func mapValue(node *yaml.Node, key string) *yaml.Node {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

func scalar(n *yaml.Node) string {
	if n == nil || n.Kind != yaml.ScalarNode {
		return ""
	}
	return n.Value
}

func isTrue(n *yaml.Node) bool {
	return n != nil && n.Kind == yaml.ScalarNode && strings.EqualFold(n.Value, "true")
}
