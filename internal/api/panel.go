package api

// panelHTML is the side panel shown in the host window. Tab surfaces are
// placed to its right, so the page only draws the left column.
const panelHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <title>promptdock</title>
  <style>
    :root { color-scheme: dark; --w: 280px; }
    body { margin: 0; font: 13px -apple-system, BlinkMacSystemFont, 'Segoe UI', sans-serif; background: #0d1117; color: #c9d1d9; }
    header { height: 80px; display: flex; align-items: center; gap: 6px; padding: 0 12px; border-bottom: 1px solid #30363d; }
    header button { background: #21262d; color: inherit; border: 1px solid #30363d; border-radius: 6px; padding: 4px 8px; cursor: pointer; }
    aside { width: var(--w); padding: 12px; box-sizing: border-box; }
    ul { list-style: none; padding: 0; margin: 0 0 12px; }
    li { display: flex; align-items: center; gap: 6px; padding: 6px; border-radius: 6px; cursor: pointer; }
    li.active { background: #1f6feb33; }
    li .title { flex: 1; overflow: hidden; text-overflow: ellipsis; white-space: nowrap; }
    li .close { opacity: .6; }
    select, textarea { width: 100%; box-sizing: border-box; background: #010409; color: inherit; border: 1px solid #30363d; border-radius: 6px; }
    textarea { height: 140px; margin: 8px 0; }
    #status { min-height: 1.2em; color: #8b949e; }
  </style>
</head>
<body>
  <header>
    <button data-nav="back">&larr;</button>
    <button data-nav="forward">&rarr;</button>
    <button data-nav="reload">&#8635;</button>
    <select id="sites"></select>
    <button id="open">+</button>
  </header>
  <aside>
    <ul id="tabs"></ul>
    <textarea id="prompt" placeholder="Prompt"></textarea>
    <button id="inject">Send to active tab</button>
    <div id="status"></div>
  </aside>
  <script>
    const api = (path, opts = {}) => fetch('/api/v1' + path, {
      headers: { 'Content-Type': 'application/json' },
      ...opts,
      body: opts.body ? JSON.stringify(opts.body) : undefined,
    }).then(r => r.json());
    const status = msg => { document.getElementById('status').textContent = msg || ''; };
    let active = null;

    async function refresh() {
      const list = await api('/tabs');
      active = list.active_tab_id;
      const ul = document.getElementById('tabs');
      ul.innerHTML = '';
      for (const t of list.tabs) {
        const li = document.createElement('li');
        li.className = t.id === active ? 'active' : '';
        li.innerHTML = '<span></span><span class="title"></span><span class="close">&times;</span>';
        li.children[0].textContent = t.site_icon;
        li.children[1].textContent = (t.is_loading ? '… ' : '') + t.title;
        li.onclick = () => api('/tabs/' + t.id + '/activate', { method: 'POST' }).then(refresh);
        li.children[2].onclick = ev => { ev.stopPropagation(); api('/tabs/' + t.id, { method: 'DELETE' }).then(refresh); };
        ul.appendChild(li);
      }
    }

    async function loadSites() {
      const { sites } = await api('/sites');
      const sel = document.getElementById('sites');
      sel.innerHTML = '';
      for (const s of sites) {
        const o = document.createElement('option');
        o.value = s.id;
        o.textContent = (s.icon || '') + ' ' + s.name;
        sel.appendChild(o);
      }
    }

    document.getElementById('open').onclick = async () => {
      const res = await api('/tabs', { method: 'POST', body: { site_id: document.getElementById('sites').value } });
      status(res.success ? '' : res.error);
      refresh();
    };
    document.querySelectorAll('[data-nav]').forEach(b => b.onclick = () => {
      if (active) api('/tabs/' + active + '/navigate', { method: 'POST', body: { action: b.dataset.nav } });
    });
    document.getElementById('inject').onclick = async () => {
      const res = await api('/inject', { method: 'POST', body: { text: document.getElementById('prompt').value } });
      status(res.success ? res.message : res.error);
    };

    const windowEvent = type => api('/window/events', { method: 'POST', body: { type } }).catch(() => {});
    let pos = [window.screenX, window.screenY];
    window.addEventListener('resize', () => windowEvent('resize'));
    window.addEventListener('focus', () => windowEvent('focus'));
    document.addEventListener('visibilitychange', () => { if (!document.hidden) windowEvent('show'); });
    setInterval(() => {
      if (pos[0] !== window.screenX || pos[1] !== window.screenY) {
        pos = [window.screenX, window.screenY];
        windowEvent('move');
      }
    }, 500);

    const es = new EventSource('/api/v1/events?types=tab-created,tab-closed,tab-updated,navigation-state-changed');
    es.onmessage = refresh;
    ['tab-created', 'tab-closed', 'tab-updated', 'navigation-state-changed'].forEach(t => es.addEventListener(t, refresh));

    function boot() {
      Promise.all([loadSites(), refresh()]).catch(() => setTimeout(boot, 1000));
    }
    boot();
  </script>
</body>
</html>`
