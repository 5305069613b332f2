package engine

// wireRequest is the JSON document a command engine reads on stdin.
type wireRequest struct {
	Run     wireRunOptions `json:"run"`
	Scripts []wireScript   `json:"scripts"`
}

type wireRunOptions struct {
	NodeName        string `json:"node_name"`
	Platform        string `json:"platform"`
	PlatformVersion string `json:"platform_version"`
	RecipeName      string `json:"recipe_name"`
	LocalMode       bool   `json:"local_mode"`
}

// wireScript carries script content as text.
type wireScript struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// wireResponse is the JSON document a command engine writes on stdout.
type wireResponse struct {
	Resources []wireResource `json:"resources"`
}

type wireResource struct {
	Kind string `json:"kind"`
	Name string `json:"name"`
}

func toWireOptions(opts RunOptions) wireRunOptions {
	return wireRunOptions{
		NodeName:        opts.NodeName,
		Platform:        opts.Platform,
		PlatformVersion: opts.PlatformVersion,
		RecipeName:      opts.RecipeName,
		LocalMode:       opts.LocalMode,
	}
}

func fromWireResources(in []wireResource) []Resource {
	out := make([]Resource, 0, len(in))
	for _, r := range in {
		out = append(out, Resource{Kind: ParseKind(r.Kind), Type: r.Kind, Name: r.Name})
	}
	return out
}
