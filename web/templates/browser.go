package templates

import (
	"context"
	"io"

	"github.com/a-h/templ"
)

// BrowserData carries the values the browser page needs at render time.
type BrowserData struct {
	BasePath string
	Version  string
}

// browserConfig is embedded as JSON for the page script.
type browserConfig struct {
	APIBase string `json:"apiBase"`
}

// BrowserPage renders the remote browser: a server picker, the selected
// server's libraries, a lazily expanded item tree, and stream links.
func BrowserPage(d BrowserData) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, `<!DOCTYPE html><html lang="en"><head><meta charset="utf-8">`+
			`<meta name="viewport" content="width=device-width, initial-scale=1"><title>`+
			templ.EscapeString(pageTitle(d.Version))+`</title><style>`+browserCSS+`</style></head><body>`); err != nil {
			return err
		}
		if err := templ.JSONScript("smack-config", browserConfig{APIBase: apiBase(d.BasePath)}).Render(ctx, w); err != nil {
			return err
		}
		_, err := io.WriteString(w, browserBody+`<script>`+browserJS+`</script></body></html>`)
		return err
	})
}

const browserCSS = `
body{font-family:system-ui,sans-serif;margin:0;background:#101418;color:#e6e6e6}
header{padding:1rem 1.5rem;background:#1b2128;display:flex;gap:1rem;align-items:center}
h1{font-size:1.2rem;margin:0}
main{display:grid;grid-template-columns:16rem 1fr;gap:1rem;padding:1rem 1.5rem}
ul{list-style:none;margin:0;padding-left:1rem}
li{margin:.2rem 0}
button.link{background:none;border:0;color:#7fb3ff;cursor:pointer;padding:0;font:inherit}
.error{color:#ff8080}
.muted{color:#8a94a0}
`

const browserBody = `
<header>
  <h1>Smack</h1>
  <label>Server <select id="servers"><option value="">Loading...</option></select></label>
  <span id="status" class="muted"></span>
</header>
<main>
  <section><h2>Libraries</h2><ul id="libraries"></ul></section>
  <section><h2>Items</h2><ul id="items"></ul><p id="stream"></p></section>
</main>
`

// The script builds DOM nodes with textContent only; remote names are never
// interpreted as HTML.
const browserJS = `
(function () {
  var cfg = JSON.parse(document.getElementById("smack-config").textContent);
  var serversEl = document.getElementById("servers");
  var librariesEl = document.getElementById("libraries");
  var itemsEl = document.getElementById("items");
  var streamEl = document.getElementById("stream");
  var statusEl = document.getElementById("status");

  function api(path) {
    return fetch(cfg.apiBase + path, {headers: {Accept: "application/json"}}).then(function (r) {
      return r.json().then(function (body) {
        if (!r.ok) { throw new Error(body && body.error ? body.error : r.statusText); }
        return body;
      });
    });
  }

  function status(msg, isError) {
    statusEl.textContent = msg || "";
    statusEl.className = isError ? "error" : "muted";
  }

  function clear(el) { while (el.firstChild) { el.removeChild(el.firstChild); } }

  function linkItem(label, onClick) {
    var li = document.createElement("li");
    var b = document.createElement("button");
    b.className = "link";
    b.textContent = label;
    b.addEventListener("click", onClick);
    li.appendChild(b);
    return li;
  }

  function seg(s) { return encodeURIComponent(s); }

  function loadItems(serverId, parentId, target) {
    status("Loading items...");
    api("/Items/" + seg(serverId) + "/" + seg(parentId)).then(function (items) {
      clear(target);
      items.forEach(function (item) {
        var label = (item.isFolder ? "[+] " : "") + (item.name || item.id) + (item.type ? " (" + item.type + ")" : "");
        var li = linkItem(label, function () {
          if (item.isFolder) {
            var sub = li.querySelector("ul");
            if (sub) { li.removeChild(sub); return; }
            sub = document.createElement("ul");
            li.appendChild(sub);
            loadItems(serverId, item.id, sub);
          } else {
            showStream(serverId, item.id);
          }
        });
        target.appendChild(li);
      });
      status(items.length ? "" : "No items.");
    }).catch(function (e) { status(e.message, true); });
  }

  function showStream(serverId, itemId) {
    api("/Stream/" + seg(serverId) + "/" + seg(itemId)).then(function (s) {
      clear(streamEl);
      var a = document.createElement("a");
      a.href = s.streamUrl;
      a.rel = "noreferrer";
      a.textContent = s.name + ": " + s.itemId;
      streamEl.appendChild(a);
    }).catch(function (e) { status(e.message, true); });
  }

  function loadLibraries(serverId) {
    clear(librariesEl); clear(itemsEl); clear(streamEl);
    if (!serverId) { return; }
    status("Loading libraries...");
    api("/Libraries/" + seg(serverId)).then(function (libs) {
      libs.forEach(function (lib) {
        librariesEl.appendChild(linkItem(lib.name || lib.id, function () {
          clear(streamEl);
          loadItems(serverId, lib.id, itemsEl);
        }));
      });
      status(libs.length ? "" : "No libraries.");
    }).catch(function (e) { status(e.message, true); });
  }

  serversEl.addEventListener("change", function () { loadLibraries(serversEl.value); });

  api("/Servers").then(function (servers) {
    clear(serversEl);
    var none = document.createElement("option");
    none.value = "";
    none.textContent = servers.length ? "Select a server" : "No servers configured";
    serversEl.appendChild(none);
    servers.forEach(function (s) {
      var o = document.createElement("option");
      o.value = s.id;
      o.textContent = (s.name || s.id) + (s.configured ? "" : " (not configured)");
      o.disabled = !s.configured;
      serversEl.appendChild(o);
    });
  }).catch(function (e) { status(e.message, true); });
})();
`
