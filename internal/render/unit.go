package render

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"

	"modelprov/pkg/types"
)

var unitTemplate = template.Must(template.New("unit").Parse(`[Unit]
Description={{.Description}}
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
User={{.User}}
Group={{.User}}
WorkingDirectory={{.WorkDir}}
Environment=HOME={{.WorkDir}}
EnvironmentFile={{.EnvFile}}
ExecStart={{.ExecStart}}
Restart=on-failure
RestartSec=5
LimitNOFILE=65536
TasksMax=4096
{{- if .MemLock}}
LimitMEMLOCK=infinity
{{- end}}
NoNewPrivileges=true
PrivateTmp=true
ProtectSystem=strict
ReadWritePaths={{.WorkDir}}
ProtectHome=true

[Install]
WantedBy=multi-user.target
`))

type unitData struct {
	Description string
	User        string
	WorkDir     string
	EnvFile     string
	ExecStart   string
	MemLock     bool
}

func execArgs(spec types.DeploymentSpec, exe string) []string {
	if spec.Kind == types.KindProxy {
		return []string{exe,
			"--config", spec.ConfigPath(),
			"--host", spec.Service.Host,
			"--port", strconv.Itoa(spec.Service.Port),
		}
	}
	return []string{exe, "serve"}
}

func renderUnit(spec types.DeploymentSpec, exe string) ([]byte, error) {
	id := spec.Service
	args := execArgs(spec, exe)
	checks := []error{
		checkPattern(unitSyntax, "name", id.Name, unitNamePattern),
		checkPattern(unitSyntax, "user", id.User, userPattern),
		checkPath(unitSyntax, "workdir", id.WorkDir),
		checkPath(unitSyntax, "config-dir", id.ConfigDir),
		checkPath(unitSyntax, "executable", exe),
	}
	for i, a := range args[1:] {
		checks = append(checks, unitSyntax.check(fmt.Sprintf("argument %d", i+1), a))
	}
	if err := firstError(checks...); err != nil {
		return nil, err
	}
	data := unitData{
		Description: fmt.Sprintf("%s (%s, managed by modelprov)", id.Name, filepath.Base(exe)),
		User:        id.User,
		WorkDir:     id.WorkDir,
		EnvFile:     spec.EnvPath(),
		ExecStart:   strings.Join(args, " "),
		MemLock:     spec.Kind == types.KindRuntime && spec.Runtime.HugePages > 0,
	}
	var buf bytes.Buffer
	if err := unitTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("execute unit template: %w", err)
	}
	return buf.Bytes(), nil
}
