package sandbox

// loaderShimSource is a small Python module written into every execution
// container alongside the generated code. It mirrors internal/loader's
// extension-based format dispatch so generated code does not write its own
// ad hoc parser per file. A .txt file is always read as one text column
// (first non-blank line as header, blank lines dropped); unlike
// internal/loader it does not detect a delimiter in .txt files.
const loaderShimSource = `"""Tabular file loader matching the project's Go Loader dispatch rules."""
import json
import os

import pandas as pd

DATA_DIR = "/data"


def _path(filename):
    if os.path.isabs(filename):
        return filename
    return os.path.join(DATA_DIR, filename)


def load_frame(filename):
    """Load filename (relative to /data, or absolute) into a DataFrame."""
    path = _path(filename)
    ext = os.path.splitext(path)[1].lower()
    if ext == ".csv":
        return pd.read_csv(path)
    if ext == ".tsv":
        return pd.read_csv(path, sep="\t")
    if ext == ".txt":
        with open(path, "r") as f:
            lines = [line.rstrip("\n") for line in f if line.strip() != ""]
        header = lines[0] if lines else "value"
        return pd.DataFrame({header: lines[1:]})
    if ext == ".json":
        return _load_json(path)
    if ext in (".xlsx", ".xls"):
        return pd.read_excel(path)
    raise ValueError("unsupported file format: %s" % ext)


def _load_json(path):
    with open(path, "r") as f:
        text = f.read()
    stripped = text.lstrip()
    if stripped.startswith("["):
        return pd.DataFrame(json.loads(text))
    if stripped.startswith("{"):
        obj = json.loads(text)
        array_fields = [k for k, v in obj.items() if isinstance(v, list)]
        if len(array_fields) == 1:
            return pd.DataFrame(obj[array_fields[0]])
    return pd.read_json(path, lines=True)
`
