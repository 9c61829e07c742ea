package definitions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanPython(t *testing.T) {
	dir := t.TempDir()

	writeFile(t, dir, "client_outreach_orchestrator.py", `import os, sys
import json
from pathlib import Path
from dotenv import load_dotenv

def main():
    from scripts.discord_monitor import start_monitor
    from email_tracker import start_tracking_server
`)
	writeFile(t, dir, "scripts/discord_monitor.py", `import asyncio
import discord  # bot client
from datetime import datetime, timezone
`)
	writeFile(t, dir, "scripts/get_file_google_drive.py", `def download():
    from google_auth_oauthlib.flow import InstalledAppFlow
    from google.oauth2.credentials import Credentials
    from googleapiclient.discovery import build
    import pandas as pd
    from . import helpers
`)
	writeFile(t, dir, "scripts/email_tracker.py", `import sqlite3
from werkzeug.serving import make_server
from flask import Flask, request
`)
	writeFile(t, dir, ".venv/lib/site.py", "import should_not_be_seen\n")

	dists, err := ScanPython(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"discord.py",
		"flask",
		"google-api-python-client",
		"google-auth",
		"google-auth-oauthlib",
		"pandas",
		"python-dotenv",
		"werkzeug",
	}, dists)
}

func TestScanPythonMissingDir(t *testing.T) {
	_, err := ScanPython("/nonexistent/path/for/scan")
	assert.Error(t, err)
}

func TestScanPythonIgnoresDocstrings(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bot.py", `"""Usage:

import not_a_dependency
from also_not import thing
"""
import requests

def run():
    '''
    import inside_single_docstring
    '''
    note = "a \"\"\" in a plain string"
    import flask
    doc = """one line"""
    import yaml
    text = r"""
from still_text import x"""
    from dotenv import load_dotenv
`)

	dists, err := ScanPython(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"PyYAML", "flask", "python-dotenv", "requests"}, dists)
}

func TestCloseQuotes(t *testing.T) {
	tests := []struct {
		line, open, want string
	}{
		{`x = 1`, "", ""},
		{`"""doc`, "", `"""`},
		{`"""doc"""`, "", ""},
		{`end of doc """`, `"""`, ""},
		{`still '''`, `"""`, `"""`},
		{`s = '"""'`, "", ""},
		{`# """ in a comment`, "", ""},
		{`escaped \""" quote`, `"""`, `"""`},
		{`'''`, "", "'''"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, closeQuotes(tt.line, tt.open), tt.line)
	}
}
