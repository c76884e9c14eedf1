package config

import "encoding/json"

// DefaultTemplateConfig 返回一个“可运行”的默认配置模板：
// - 获取器为 harness（克隆 compat-table 并运行 node rhino.js -u）；
// - 报告输出到 ./out；
// - 选项列出全部键并给出中性默认值。
func DefaultTemplateConfig() Config {
	d := Defaults()
	skip := false
	cfg := Config{
		Results:     []string{"tests/testsrc/test262.properties"},
		CompatDir:   "build/compat-table",
		OutputDir:   "out",
		SkipAcquire: &skip,
		Emit:        d.Emit,
		Concurrency: 0,
		MaxRetries:  1,
		Compat:      d.Compat,
		Logging:     Logging{Level: "info", Dir: "logs"},
		Components:  d.Components,
	}
	cfg.Options.Reader = json.RawMessage(`{
  "buf_size": 65536,
  "include": [],
  "exclude_dir_names": [".git", "node_modules"],
  "max_depth": 0
}`)
	cfg.Options.Acquirer = json.RawMessage(`{
  "repo_url": "https://github.com/compat-table/compat-table.git",
  "ref": "",
  "dir": "",
  "update": false,
  "engine_dir": "",
  "build_cmd": [],
  "jar": "",
  "jar_dest": "rhino.jar",
  "run_cmd": ["node", "rhino.js", "-u"],
  "timeout_seconds": 1200,
  "max_retries": 1,
  "lock_file": ""
}`)
	cfg.Options.Writer = json.RawMessage(`{
  "output_dir": "",
  "atomic": true,
  "perm_file": 0,
  "perm_dir": 0,
  "buf_size": 65536
}`)
	cfg.Options.Emitter = map[string]json.RawMessage{
		"json":      json.RawMessage(`{"artifact": "rhino-features.json", "engine": "Rhino", "compact": false, "omit_timestamp": false}`),
		"markdown":  json.RawMessage(`{"artifact": "FEATURES.md", "title": "Rhino Feature Documentation", "template": ""}`),
		"dashboard": json.RawMessage(`{"artifact": "rhino-features.html", "title": "Rhino JavaScript Engine - Feature Dashboard"}`),
	}
	return cfg
}
