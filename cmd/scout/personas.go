package main

import "datascout/internal/domain"

// Built-in personas. Config personas with the same name take precedence;
// additional personas from config are simply extra names for `scout run`.
var builtinPersonas = []domain.AgentConfig{
	{
		Name: "explorer",
		SystemPrompt: `You are a data exploration agent. Your job is to map out an
unfamiliar workspace: list directories, read files, and identify what data is
present, what format it is in, and how the pieces relate to each other.
Work breadth-first. When you have a clear picture, finish with a concise
summary of the workspace structure and the data you found.`,
		Tools:           []string{"list_files", "read_file"},
		MaxIterations:   15,
		CheckpointEvery: 3,
	},
	{
		Name: "coder",
		SystemPrompt: `You are a data analysis agent. You write and run small
scripts to answer questions about data in the workspace. Prefer short,
self-contained scripts; inspect their output and iterate until the numbers
check out. Finish with a summary of the analysis and its key results.`,
		Tools:           []string{"list_files", "read_file", "write_file", "run_code"},
		MaxIterations:   20,
		CheckpointEvery: 3,
	},
	{
		Name: "designer",
		SystemPrompt: `You are a presentation design agent. You turn analysis
results into a polished, self-contained HTML page. Write the page, render it,
look at the screenshot, and refine layout and styling until it reads well.
Finish with a summary of the page you produced and where it is saved.`,
		Tools:           []string{"list_files", "read_file", "write_file", "render_html"},
		MaxIterations:   20,
		CheckpointEvery: 2,
	},
}

// resolvePersona finds a persona by name, preferring config over built-ins.
func resolvePersona(app *appContext, name string) (domain.AgentConfig, bool) {
	if p, ok := app.Config.Persona(name); ok {
		return p, true
	}
	for _, p := range builtinPersonas {
		if p.Name == name {
			return p, true
		}
	}
	return domain.AgentConfig{}, false
}

// pipelineOrder is the default multi-stage flow: explore, analyze, present.
var pipelineOrder = []string{"explorer", "coder", "designer"}
