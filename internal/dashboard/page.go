package dashboard

// indexPage is the single-page DLQ console. It talks to /api/dlq and
// /api/replay with the same filter fields.
const indexPage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Hermes DLQ Dashboard</title>
<style>
  body { font-family: -apple-system, "Segoe UI", sans-serif; margin: 2rem; color: #1f2430; }
  h1 { font-size: 1.4rem; }
  form { display: flex; gap: .5rem; flex-wrap: wrap; margin-bottom: 1rem; }
  input { padding: .4rem .6rem; border: 1px solid #c6ccd8; border-radius: 4px; }
  button { padding: .4rem .9rem; border: 0; border-radius: 4px; cursor: pointer; }
  #scan { background: #2b6cb0; color: #fff; }
  #replay { background: #c05621; color: #fff; }
  table { border-collapse: collapse; width: 100%; }
  th, td { text-align: left; padding: .4rem .6rem; border-bottom: 1px solid #e2e6ee; font-size: .9rem; }
  #status { margin: .6rem 0; color: #4a5568; }
</style>
</head>
<body>
<h1>Hermes DLQ Dashboard</h1>
<form onsubmit="return false">
  <input id="source" placeholder="source (exact)">
  <input id="errorContains" placeholder="error contains">
  <input id="fromIso" placeholder="from (RFC3339)">
  <input id="toIso" placeholder="to (RFC3339)">
  <input id="limit" type="number" placeholder="limit" value="50">
  <button id="scan" onclick="scan()">Scan</button>
  <button id="replay" onclick="replay()">Replay</button>
</form>
<div id="status">Ready.</div>
<table>
  <thead><tr><th>Source</th><th>URL</th><th>Reason</th><th>Retries</th><th>At</th></tr></thead>
  <tbody id="rows"></tbody>
</table>
<script>
function filter() {
  return {
    source: document.getElementById('source').value,
    errorContains: document.getElementById('errorContains').value,
    fromIso: document.getElementById('fromIso').value,
    toIso: document.getElementById('toIso').value,
    limit: parseInt(document.getElementById('limit').value, 10) || 0
  };
}
function esc(s) {
  const div = document.createElement('div');
  div.textContent = s == null ? '' : String(s);
  return div.innerHTML;
}
async function scan() {
  const f = filter();
  const params = new URLSearchParams();
  for (const [k, v] of Object.entries(f)) if (v) params.set(k, v);
  const res = await fetch('/api/dlq?' + params);
  const data = await res.json();
  document.getElementById('status').textContent =
    'Queue depth ' + data.total + ', scanned ' + data.scanned + ', matched ' + data.matched +
    ', showing ' + data.items.length + '.';
  document.getElementById('rows').innerHTML = data.items.map(e =>
    '<tr><td>' + esc(e.payload.sourceName) + '</td><td>' + esc(e.payload.url) +
    '</td><td>' + esc(e.reason) + '</td><td>' + esc(e.retryCount) +
    '</td><td>' + esc(e.at) + '</td></tr>').join('');
}
async function replay() {
  const res = await fetch('/api/replay', {
    method: 'POST',
    headers: {'Content-Type': 'application/json'},
    body: JSON.stringify(filter())
  });
  const data = await res.json();
  document.getElementById('status').textContent =
    'Replayed ' + data.replayed + ' of ' + data.scanned + ' scanned.';
  scan();
}
</script>
</body>
</html>
`
