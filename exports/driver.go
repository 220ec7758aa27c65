package exports

import (
	"bytes"
	"os"
	"text/template"

	jsoniter "github.com/json-iterator/go"
)

// driverConfig is the JSON blob handed to the generated Python driver. The
// driver is deliberately dumb: all decisions live in the typed Go specs, the
// Python side only executes them.
type driverConfig struct {
	ExamplePath string            `json:"example_path"`
	Model       ModelSpec         `json:"model"`
	Trace       driverTraceConfig `json:"trace"`
	Convert     driverConvertSpec `json:"convert"`
	Candidates  [][]int64         `json:"candidates,omitempty"`
}

type driverTraceConfig struct {
	CheckTrace bool `json:"check_trace"`
}

type driverConvertSpec struct {
	InputName     string    `json:"input_name"`
	Shape         []int64   `json:"shape"`
	FlexAxis      int       `json:"flex_axis"`
	Flexible      *RangeDim `json:"flexible,omitempty"`
	Precision     string    `json:"precision"`
	MinimumTarget string    `json:"minimum_target"`
	Author        string    `json:"author"`
	Description   string    `json:"description"`
	PackagePath   string    `json:"package_path"`
}

func (e *baseExporter) driverConfig(examplePath, packagePath string) driverConfig {
	return driverConfig{
		ExamplePath: examplePath,
		Model:       e.model,
		Trace:       driverTraceConfig{CheckTrace: e.trace.CheckTrace},
		Convert: driverConvertSpec{
			InputName:     e.convert.InputName,
			Shape:         e.convert.InputShape,
			FlexAxis:      e.convert.FlexAxis,
			Flexible:      e.convert.Flexible,
			Precision:     e.convert.Precision,
			MinimumTarget: e.convert.MinimumTarget,
			Author:        e.convert.Author,
			Description:   e.convert.Description,
			PackagePath:   packagePath,
		},
	}
}

var exportDriverTemplate = template.Must(template.New("exportDriver").Parse(`import json
import sys

cfg = json.loads(r'''{{.ConfigJSON}}''')

import numpy

if int(numpy.__version__.split(".")[0]) >= 2:
    print("numpy %s detected, a 1.x release is required" % numpy.__version__, file=sys.stderr)
    sys.exit(1)

import torch

example = torch.from_numpy(numpy.load(cfg["example_path"]))

model_cfg = cfg["model"]
kind = model_cfg["kind"]
if kind == "separator":
    import openunmix.utils

    model = openunmix.utils.load_separator(
        model_str_or_path=model_cfg["name"],
        niter=model_cfg["iterations"],
        residual=model_cfg["residual"],
        device="cpu",
    )
elif kind == "target":
    import openunmix.utils

    separator = openunmix.utils.load_separator(
        model_str_or_path=model_cfg["name"],
        niter=model_cfg["iterations"],
        residual=model_cfg["residual"],
        device="cpu",
    )
    model = separator.target_models[model_cfg["target"]]
elif kind == "ensemble":
    from demucs.pretrained import get_model

    bag = get_model(model_cfg["name"])
    # a bag of models is not traceable as one graph, take the first member
    model = bag.models[0] if hasattr(bag, "models") else bag
else:
    print("unknown model kind %s" % kind, file=sys.stderr)
    sys.exit(1)

model.eval()

print("Tracing with input %s" % str(tuple(example.shape)))
traced = torch.jit.trace(model, example, check_trace=cfg["trace"]["check_trace"])

import coremltools as ct

conv = cfg["convert"]
shape = list(conv["shape"])
if conv["flex_axis"] >= 0:
    flex = conv["flexible"]
    shape[conv["flex_axis"]] = ct.RangeDim(
        lower_bound=flex["lower"], upper_bound=flex["upper"], default=flex["default"]
    )

precision = ct.precision.FLOAT16 if conv["precision"] == "float16" else ct.precision.FLOAT32
mlmodel = ct.convert(
    traced,
    inputs=[ct.TensorType(name=conv["input_name"], shape=tuple(shape))],
    convert_to="mlprogram",
    compute_precision=precision,
    minimum_deployment_target=getattr(ct.target, conv["minimum_target"]),
)
mlmodel.author = conv["author"]
mlmodel.short_description = conv["description"]
mlmodel.save(conv["package_path"])
print("Saved %s" % conv["package_path"])
`))

var probeDriverTemplate = template.Must(template.New("probeDriver").Parse(`import json
import sys

cfg = json.loads(r'''{{.ConfigJSON}}''')

import torch
import openunmix.utils

model_cfg = cfg["model"]
separator = openunmix.utils.load_separator(
    model_str_or_path=model_cfg["name"],
    niter=model_cfg["iterations"],
    residual=model_cfg["residual"],
    device="cpu",
)
model = separator.target_models[model_cfg["target"]]
model.eval()

for candidate in cfg["candidates"]:
    try:
        x = torch.randn(*candidate)
        with torch.no_grad():
            out = model(x)
        print(json.dumps({"shape": candidate, "ok": True, "output_shape": list(out.shape)}))
    except Exception as exc:
        print(json.dumps({"shape": candidate, "ok": False, "reason": str(exc)}))
`))

type driverContext struct {
	ConfigJSON string
}

func renderDriver(tmpl *template.Template, path string, cfg driverConfig) error {
	configJSON, err := jsoniter.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	buf := &bytes.Buffer{}
	if err := tmpl.Execute(buf, driverContext{ConfigJSON: string(configJSON)}); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func renderExportDriver(path string, cfg driverConfig) error {
	return renderDriver(exportDriverTemplate, path, cfg)
}

func renderProbeDriver(path string, cfg driverConfig) error {
	return renderDriver(probeDriverTemplate, path, cfg)
}
