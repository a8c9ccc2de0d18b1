package web

import "html/template"

// pageTemplates holds every server-rendered page. Pages share the layout
// through plain template composition; styling stays inline so the binary is
// self-contained.
const pageTemplates = `
{{define "head"}}<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}} — Cliniscribe</title>
<style>
  body { font-family: system-ui, sans-serif; max-width: 52rem; margin: 2rem auto; color: #1c2733; }
  h1 { font-size: 1.5rem; }
  h2 { font-size: 1.1rem; margin-top: 1.5rem; }
  table { border-collapse: collapse; width: 100%; }
  td { padding: .3rem .6rem; border-bottom: 1px solid #dde3ea; vertical-align: top; }
  td.label { width: 11rem; font-weight: 600; }
  form.inline { display: inline; }
  input[type=text], textarea { width: 100%; box-sizing: border-box; padding: .35rem; }
  button { padding: .4rem .9rem; margin-right: .4rem; }
  .error { color: #a4232c; }
  .muted { color: #5b6a7a; }
  #live { background: #f4f6f8; padding: .8rem; min-height: 3rem; white-space: pre-wrap; }
</style>
</head>
<body>{{end}}

{{define "foot"}}</body>
</html>{{end}}

{{define "login"}}{{template "head" .}}
<h1>Cliniscribe</h1>
<p>Enter a patient ID to open their chart, or register a new patient.</p>
{{if .Error}}<p class="error">{{.Error}}</p>{{end}}
<form method="post" action="/verify">
  <label>Patient ID <input type="text" name="patient_id" value="{{.PatientID}}"></label>
  <button type="submit">Open chart</button>
</form>
<p><a href="/patients/new">New patient intake</a></p>
{{template "foot" .}}{{end}}

{{define "intake"}}{{template "head" .}}
<h1>New patient intake</h1>
{{if .Error}}<p class="error">{{.Error}}</p>{{end}}
<form method="post" action="/patients">
  <table>
    <tr><td class="label">First name</td><td><input type="text" name="first_name"></td></tr>
    <tr><td class="label">Last name</td><td><input type="text" name="last_name"></td></tr>
    <tr><td class="label">Age</td><td><input type="text" name="age"></td></tr>
    <tr><td class="label">Gender</td><td><input type="text" name="gender"></td></tr>
    <tr><td class="label">Date of birth</td><td><input type="text" name="date_of_birth" placeholder="YYYY-MM-DD"></td></tr>
  </table>
  <p><button type="submit">Create record</button> <a href="/">Back</a></p>
</form>
{{template "foot" .}}{{end}}

{{define "dashboard"}}{{template "head" .}}
<h1>{{.Record.FullName}} <span class="muted">(patient #{{.Record.ID}})</span></h1>
<p>
  <a href="/patients/{{.Record.ID}}/edit">Edit record</a> ·
  <a href="/patients/{{.Record.ID}}/report">Last visit report</a> ·
  <a href="/">Switch patient</a>
</p>

<h2>Chart</h2>
<table>
{{range .Chart}}<tr><td class="label">{{.Label}}</td><td>{{.Value}}</td></tr>
{{end}}</table>

<h2>Recording</h2>
<p>
  <button id="start">Start visit recording</button>
  <button id="stop">Stop</button>
  <span id="rec-status" class="muted"></span>
</p>
<div id="live"></div>

<h2>Ask about this patient</h2>
<form id="chat">
  <input type="text" id="question" placeholder="e.g. What is she allergic to?">
  <button type="submit">Ask</button>
</form>
<div id="answer" class="muted"></div>

<h2>Search past visits</h2>
<form id="search">
  <input type="text" id="query" placeholder="e.g. blood pressure discussion">
  <button type="submit">Search</button>
</form>
<div id="results"></div>

<script>
const pid = {{.Record.ID}};
const status = document.getElementById("rec-status");
document.getElementById("start").onclick = async () => {
  const r = await fetch("/patients/" + pid + "/record/start", {method: "POST"});
  status.textContent = r.ok ? "recording…" : "start failed (" + r.status + ")";
  if (r.ok) listen();
};
document.getElementById("stop").onclick = async () => {
  const r = await fetch("/record/stop", {method: "POST"});
  status.textContent = r.ok ? "processing…" : "stop failed (" + r.status + ")";
};
function listen() {
  const proto = location.protocol === "https:" ? "wss://" : "ws://";
  const ws = new WebSocket(proto + location.host + "/ws/live");
  const live = document.getElementById("live");
  live.textContent = "";
  ws.onmessage = (ev) => {
    const msg = JSON.parse(ev.data);
    if (msg.final) { live.textContent += msg.text + "\n"; }
  };
}
document.getElementById("chat").onsubmit = async (ev) => {
  ev.preventDefault();
  const q = document.getElementById("question").value;
  const r = await fetch("/patients/" + pid + "/chat", {
    method: "POST",
    headers: {"Content-Type": "application/json"},
    body: JSON.stringify({question: q}),
  });
  const body = await r.json();
  document.getElementById("answer").textContent = body.answer || body.error || "";
};
document.getElementById("search").onsubmit = async (ev) => {
  ev.preventDefault();
  const q = document.getElementById("query").value;
  const r = await fetch("/patients/" + pid + "/visits/search?q=" + encodeURIComponent(q));
  const body = await r.json();
  const out = document.getElementById("results");
  out.textContent = "";
  for (const v of body.results || []) {
    const p = document.createElement("p");
    p.textContent = v.recorded_at + " — " + (v.summary || v.snippet);
    out.appendChild(p);
  }
};
</script>
{{template "foot" .}}{{end}}

{{define "edit"}}{{template "head" .}}
<h1>Edit record — {{.Record.FullName}}</h1>
<p class="muted">Submitted values merge into the chart: list fields union with
what is already recorded, notes append. Identity fields are set at intake and
cannot be edited here.</p>
<form method="post" action="/patients/{{.Record.ID}}">
  <table>
  {{range .Fields}}<tr>
    <td class="label">{{.Label}}</td>
    <td><textarea name="{{.Name}}" rows="{{.Rows}}" placeholder="{{.Current}}"></textarea></td>
  </tr>
  {{end}}</table>
  <p><button type="submit">Merge into record</button>
     <a href="/patients/{{.Record.ID}}">Cancel</a></p>
</form>
{{template "foot" .}}{{end}}
`

var templates = template.Must(template.New("pages").Parse(pageTemplates))
